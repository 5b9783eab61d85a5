package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v78"

	"github.com/leadninja/leadninja-api/internal/credits"
	"github.com/leadninja/leadninja-api/internal/models"
	"github.com/leadninja/leadninja-api/internal/repository"
)

// Processor consumes billing lifecycle events after signature
// verification. Every credit-granting handler is idempotent against
// redelivery: the ledger's reference key makes a second delivery of the
// same event a logged no-op.
type Processor struct {
	subscriptions repository.SubscriptionRepository
	ledger        *credits.Service
	logger        zerolog.Logger
}

func NewProcessor(subscriptions repository.SubscriptionRepository, ledger *credits.Service, logger zerolog.Logger) *Processor {
	return &Processor{
		subscriptions: subscriptions,
		ledger:        ledger,
		logger:        logger.With().Str("component", "billing").Logger(),
	}
}

// HandleEvent dispatches one verified event. Unhandled event types are
// acknowledged without action so the provider stops redelivering them.
func (p *Processor) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	case "invoice.paid":
		return p.handleInvoicePaid(ctx, event)
	case "customer.subscription.updated":
		return p.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	default:
		p.logger.Debug().Str("type", string(event.Type)).Msg("ignoring unhandled event type")
		return nil
	}
}

// handleCheckoutCompleted provisions the subscription and grants the first
// period's credits, keyed by the checkout session id.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return errors.Wrap(err, "invalid checkout session payload")
	}

	userID := session.ClientReferenceID
	if userID == "" {
		return fmt.Errorf("checkout session %s has no client reference", session.ID)
	}

	planID := FreePlanID
	if session.Metadata != nil && session.Metadata["plan_id"] != "" {
		planID = session.Metadata["plan_id"]
	}
	plan := PlanByID(planID)

	now := time.Now()
	periodEnd := now.AddDate(0, 1, 0)

	sub := models.Subscription{
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             models.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd,
	}
	if session.Customer != nil {
		sub.StripeCustomerID = &session.Customer.ID
	}
	if session.Subscription != nil {
		sub.StripeSubscriptionID = &session.Subscription.ID
	}
	if _, err := p.subscriptions.Upsert(ctx, sub); err != nil {
		return errors.Wrap(err, "failed to provision subscription")
	}

	_, err := p.ledger.ResetPeriod(ctx, userID, plan.MonthlyCredits, now, periodEnd,
		repository.TxRef{Type: "checkout", ID: session.ID})
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("user_id", userID).
		Str("plan", plan.ID).
		Str("session", session.ID).
		Msg("checkout completed")
	return nil
}

// handleInvoicePaid renews the period, keyed by the invoice id.
func (p *Processor) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return errors.Wrap(err, "invalid invoice payload")
	}
	if invoice.Customer == nil {
		return fmt.Errorf("invoice %s has no customer", invoice.ID)
	}

	sub, err := p.subscriptions.FindByStripeCustomer(ctx, invoice.Customer.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			// Renewal for a customer we never provisioned; acknowledge so
			// the provider stops retrying, but flag it.
			p.logger.Warn().Str("customer", invoice.Customer.ID).Msg("invoice for unknown customer")
			return nil
		}
		return err
	}

	plan := PlanByID(sub.PlanID)
	periodStart := time.Unix(invoice.PeriodStart, 0)
	periodEnd := time.Unix(invoice.PeriodEnd, 0)
	if invoice.PeriodEnd == 0 {
		periodStart = time.Now()
		periodEnd = periodStart.AddDate(0, 1, 0)
	}

	sub.CurrentPeriodStart = periodStart
	sub.CurrentPeriodEnd = periodEnd
	sub.Status = models.SubscriptionStatusActive
	if _, err := p.subscriptions.Upsert(ctx, sub); err != nil {
		return err
	}

	_, err = p.ledger.ResetPeriod(ctx, sub.UserID, plan.MonthlyCredits, periodStart, periodEnd,
		repository.TxRef{Type: "subscription_renewal", ID: invoice.ID})
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("user_id", sub.UserID).
		Str("invoice", invoice.ID).
		Str("plan", plan.ID).
		Msg("subscription renewed")
	return nil
}

// handleSubscriptionUpdated records plan changes; credit grants happen on
// the paid invoice, not here.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return errors.Wrap(err, "invalid subscription payload")
	}
	if stripeSub.Customer == nil {
		return fmt.Errorf("subscription %s has no customer", stripeSub.ID)
	}

	sub, err := p.subscriptions.FindByStripeCustomer(ctx, stripeSub.Customer.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			p.logger.Warn().Str("customer", stripeSub.Customer.ID).Msg("update for unknown customer")
			return nil
		}
		return err
	}

	if len(stripeSub.Items.Data) > 0 && stripeSub.Items.Data[0].Price != nil {
		sub.PlanID = PlanByStripePrice(stripeSub.Items.Data[0].Price.ID).ID
	}
	sub.CurrentPeriodStart = time.Unix(stripeSub.CurrentPeriodStart, 0)
	sub.CurrentPeriodEnd = time.Unix(stripeSub.CurrentPeriodEnd, 0)

	_, err = p.subscriptions.Upsert(ctx, sub)
	return err
}

// handleSubscriptionDeleted downgrades to free and caps the balance at the
// free-tier ceiling. A grandfathered surplus above the ceiling is removed,
// not refunded; a balance below it is untouched.
func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return errors.Wrap(err, "invalid subscription payload")
	}
	if stripeSub.Customer == nil {
		return fmt.Errorf("subscription %s has no customer", stripeSub.ID)
	}

	sub, err := p.subscriptions.FindByStripeCustomer(ctx, stripeSub.Customer.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			p.logger.Warn().Str("customer", stripeSub.Customer.ID).Msg("cancellation for unknown customer")
			return nil
		}
		return err
	}

	sub.PlanID = FreePlanID
	sub.Status = models.SubscriptionStatusCancelled
	if _, err := p.subscriptions.Upsert(ctx, sub); err != nil {
		return err
	}

	_, err = p.ledger.CapBalance(ctx, sub.UserID, FreeTierCeiling(),
		fmt.Sprintf("downgrade to free on cancellation of %s", stripeSub.ID))
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("user_id", sub.UserID).
		Str("subscription", stripeSub.ID).
		Msg("subscription cancelled, plan downgraded")
	return nil
}
