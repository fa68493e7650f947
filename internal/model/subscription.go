package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionPastDue, SubscriptionInactive, SubscriptionCancelled:
		return true
	default:
		return false
	}
}

// SubscriptionStatusFromProvider collapses the payment provider's subscription
// status into the states the gateway tracks.
func SubscriptionStatusFromProvider(s string) SubscriptionStatus {
	switch s {
	case "active":
		return SubscriptionActive
	case "past_due":
		return SubscriptionPastDue
	default:
		return SubscriptionInactive
	}
}

// Subscription is the DB entity persisted in the subscriptions table (one row per user).
type Subscription struct {
	UserID               string             `db:"user_id"               json:"user_id"`
	StripeCustomerID     string             `db:"stripe_customer_id"     json:"stripe_customer_id"`
	StripeSubscriptionID string             `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	Status               SubscriptionStatus `db:"status"                 json:"status"`
	CurrentPeriodStart   *time.Time         `db:"current_period_start"   json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `db:"current_period_end"     json:"current_period_end,omitempty"`
	CreatedAt            time.Time          `db:"created_at"             json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at"             json:"updated_at"`
}

// Active reports whether the subscription currently grants access.
func (s *Subscription) Active() bool {
	return s != nil && s.Status == SubscriptionActive
}

// SubscriptionPatch is an unconditional keyed update. Nil period fields are
// left untouched.
type SubscriptionPatch struct {
	Status      SubscriptionStatus
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}
