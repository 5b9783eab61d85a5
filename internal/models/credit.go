package models

import "time"

type TransactionType string

const (
	TransactionTypeUsage               TransactionType = "usage"
	TransactionTypePurchase            TransactionType = "purchase"
	TransactionTypeSubscriptionRenewal TransactionType = "subscription_renewal"
	TransactionTypeRefund              TransactionType = "refund"
	TransactionTypeAdjustment          TransactionType = "adjustment"
)

// CreditBalance is the single mutable balance row per user. The non-negative
// invariant on Balance is enforced by a CHECK constraint at the data layer;
// the only write paths are the atomic operations on credits.Service.
type CreditBalance struct {
	UserID         string    `json:"user_id" db:"user_id"`
	Balance        int       `json:"balance" db:"balance"`
	UsedThisPeriod int       `json:"used_this_period" db:"used_this_period"`
	PeriodStart    time.Time `json:"period_start" db:"period_start"`
	PeriodEnd      time.Time `json:"period_end" db:"period_end"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// CreditTransaction is an append-only ledger entry. BalanceAfter is a
// snapshot taken inside the same transaction as the balance mutation, never
// recomputed. The (ReferenceType, ReferenceID) pair, when set, is the
// idempotency key protecting renewal/purchase grants against redelivered
// billing events.
type CreditTransaction struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Amount        int             `json:"amount" db:"amount"`
	BalanceAfter  int             `json:"balance_after" db:"balance_after"`
	Type          TransactionType `json:"type" db:"type"`
	ReferenceType *string         `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID   *string         `json:"reference_id,omitempty" db:"reference_id"`
	Description   string          `json:"description" db:"description"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

type Subscription struct {
	UserID               string             `json:"user_id" db:"user_id"`
	PlanID               string             `json:"plan_id" db:"plan_id"`
	Status               SubscriptionStatus `json:"status" db:"status"`
	StripeCustomerID     *string            `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	StripeSubscriptionID *string            `json:"stripe_subscription_id,omitempty" db:"stripe_subscription_id"`
	CurrentPeriodStart   time.Time          `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end" db:"current_period_end"`
	UpdatedAt            time.Time          `json:"updated_at" db:"updated_at"`
}

// APIKey is a BYOK credential record. The metering path only ever checks
// existence; the encrypted key material is read exclusively by the external
// worker executing the step.
type APIKey struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Service   string    `json:"service" db:"service"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
