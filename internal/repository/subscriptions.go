package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

type SubscriptionsRepository interface {
	GetByUserID(ctx context.Context, userID string) (*model.Subscription, error)
	Upsert(ctx context.Context, sub model.Subscription) error
	UpdateBySubscriptionID(ctx context.Context, subscriptionID string, patch model.SubscriptionPatch) (int64, error)
}

type SubscriptionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscriptionsRepository(db *sqlx.DB) *SubscriptionsRepositoryImpl {
	return &SubscriptionsRepositoryImpl{db: db}
}

var _ SubscriptionsRepository = (*SubscriptionsRepositoryImpl)(nil)

// GetByUserID returns nil, nil when the user has no subscription row.
func (r *SubscriptionsRepositoryImpl) GetByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	var s model.Subscription
	err := r.db.GetContext(ctx, &s, `
		SELECT user_id, stripe_customer_id, stripe_subscription_id, status,
		       current_period_start, current_period_end, created_at, updated_at
		  FROM subscriptions
		 WHERE user_id = ? LIMIT 1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert writes the row keyed by user_id. NULL periods keep the stored values.
func (r *SubscriptionsRepositoryImpl) Upsert(ctx context.Context, sub model.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions
		    (user_id, stripe_customer_id, stripe_subscription_id, status,
		     current_period_start, current_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    stripe_customer_id     = VALUES(stripe_customer_id),
		    stripe_subscription_id = VALUES(stripe_subscription_id),
		    status                 = VALUES(status),
		    current_period_start   = COALESCE(VALUES(current_period_start), current_period_start),
		    current_period_end     = COALESCE(VALUES(current_period_end), current_period_end),
		    updated_at             = NOW()
	`, sub.UserID, sub.StripeCustomerID, sub.StripeSubscriptionID, sub.Status.String(),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	return err
}

// UpdateBySubscriptionID applies patch to every row carrying subscriptionID and
// returns the number of rows matched. Matched, not changed: the connection
// is opened with clientFoundRows, so a redelivered event still counts.
func (r *SubscriptionsRepositoryImpl) UpdateBySubscriptionID(ctx context.Context, subscriptionID string, patch model.SubscriptionPatch) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		   SET status               = ?,
		       current_period_start = COALESCE(?, current_period_start),
		       current_period_end   = COALESCE(?, current_period_end),
		       updated_at           = NOW()
		 WHERE stripe_subscription_id = ?
	`, patch.Status.String(), patch.PeriodStart, patch.PeriodEnd, subscriptionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
