package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/leadninja/leadninja-api/internal/models"
)

type SubscriptionRepository interface {
	Get(ctx context.Context, userID string) (models.Subscription, error)
	Upsert(ctx context.Context, sub models.Subscription) (models.Subscription, error)
	FindByStripeCustomer(ctx context.Context, customerID string) (models.Subscription, error)
}

type subscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

const subscriptionColumns = `user_id, plan_id, status, stripe_customer_id, stripe_subscription_id, current_period_start, current_period_end, updated_at`

func (r *subscriptionRepository) Get(ctx context.Context, userID string) (models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM ninja.subscriptions WHERE user_id = $1`
	var s models.Subscription
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.UserID, &s.PlanID, &s.Status, &s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// Absent row reads as the free plan.
		now := time.Now()
		return models.Subscription{
			UserID:             userID,
			PlanID:             "free",
			Status:             models.SubscriptionStatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		}, nil
	}
	return s, err
}

func (r *subscriptionRepository) Upsert(ctx context.Context, sub models.Subscription) (models.Subscription, error) {
	query := `
		INSERT INTO ninja.subscriptions (user_id, plan_id, status, stripe_customer_id, stripe_subscription_id, current_period_start, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_id) DO UPDATE
		SET plan_id = EXCLUDED.plan_id,
		    status = EXCLUDED.status,
		    stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, ninja.subscriptions.stripe_customer_id),
		    stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, ninja.subscriptions.stripe_subscription_id),
		    current_period_start = EXCLUDED.current_period_start,
		    current_period_end = EXCLUDED.current_period_end,
		    updated_at = now()
		RETURNING ` + subscriptionColumns + `
	`
	var s models.Subscription
	err := r.db.QueryRowContext(ctx, query,
		sub.UserID, sub.PlanID, sub.Status, sub.StripeCustomerID, sub.StripeSubscriptionID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
	).Scan(
		&s.UserID, &s.PlanID, &s.Status, &s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.UpdatedAt,
	)
	return s, err
}

func (r *subscriptionRepository) FindByStripeCustomer(ctx context.Context, customerID string) (models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM ninja.subscriptions WHERE stripe_customer_id = $1`
	var s models.Subscription
	err := r.db.QueryRowContext(ctx, query, customerID).Scan(
		&s.UserID, &s.PlanID, &s.Status, &s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.UpdatedAt,
	)
	return s, err
}
