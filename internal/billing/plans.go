package billing

// Plan describes what a subscription tier grants each billing period.
type Plan struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MonthlyCredits int    `json:"monthly_credits"`
	StripePriceID  string `json:"stripe_price_id,omitempty"`
}

const FreePlanID = "free"

var plans = map[string]Plan{
	"free":    {ID: "free", Name: "Free", MonthlyCredits: 50},
	"starter": {ID: "starter", Name: "Starter", MonthlyCredits: 500, StripePriceID: "price_starter_monthly"},
	"pro":     {ID: "pro", Name: "Pro", MonthlyCredits: 2000, StripePriceID: "price_pro_monthly"},
}

// PlanByID falls back to the free plan for unknown ids so a bad payload
// can never grant more than the floor tier.
func PlanByID(id string) Plan {
	if plan, ok := plans[id]; ok {
		return plan
	}
	return plans[FreePlanID]
}

func PlanByStripePrice(priceID string) Plan {
	for _, plan := range plans {
		if plan.StripePriceID != "" && plan.StripePriceID == priceID {
			return plan
		}
	}
	return plans[FreePlanID]
}

// FreeTierCeiling is the balance cap applied on downgrade to free.
func FreeTierCeiling() int {
	return plans[FreePlanID].MonthlyCredits
}
