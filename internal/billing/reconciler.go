// Package billing turns signed payment-provider events into subscription
// state transitions.
//
// Each transition is derived only from the event's own fields and written as
// an upsert or an unconditional keyed update, so a redelivered event leaves
// the record as it was after the first delivery.
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

// SubscriptionStore is the write side of the subscriptions table.
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub model.Subscription) error
	UpdateBySubscriptionID(ctx context.Context, subscriptionID string, patch model.SubscriptionPatch) (int64, error)
}

// UserDirectory resolves a checkout email to known user ids.
type UserDirectory interface {
	FindIDsByEmail(ctx context.Context, email string) ([]string, error)
}

// Period is a subscription's current billing period.
type Period struct {
	Start *time.Time
	End   *time.Time
}

// PeriodFetcher reads the billing period of a provider subscription.
type PeriodFetcher interface {
	FetchPeriod(ctx context.Context, subscriptionID string) (Period, error)
}

type Reconciler struct {
	store   SubscriptionStore
	users   UserDirectory
	periods PeriodFetcher // optional
}

func NewReconciler(store SubscriptionStore, users UserDirectory, periods PeriodFetcher) *Reconciler {
	return &Reconciler{store: store, users: users, periods: periods}
}

// Apply dispatches ev to its handler. A non-nil error means the handler could
// not complete (store or provider failure); no-ops are not errors.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return r.checkoutCompleted(ctx, e)
	case SubscriptionUpdated:
		return r.subscriptionUpdated(ctx, e)
	case SubscriptionDeleted:
		return r.subscriptionDeleted(ctx, e)
	case InvoicePaymentFailed:
		return r.invoicePaymentFailed(ctx, e)
	default:
		return OutcomeIgnored, nil
	}
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, e CheckoutCompleted) (Outcome, error) {
	log := logger.Log.With(zap.String("event_id", e.ID), zap.String("subscription_id", e.SubscriptionID))

	if e.Mode != "subscription" || e.SubscriptionID == "" {
		log.Debug("checkout without subscription", zap.String("mode", e.Mode))
		return OutcomeNoop, nil
	}

	email := strings.TrimSpace(e.Email)
	if email == "" {
		log.Error("no customer email in checkout session")
		return OutcomeNoop, nil
	}

	ids, err := r.users.FindIDsByEmail(ctx, email)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("find user by email: %w", err)
	}
	switch len(ids) {
	case 0:
		log.Error("user not found for checkout email", zap.String("email", email))
		return OutcomeNoop, nil
	case 1:
	default:
		log.Error("checkout email matches several users", zap.String("email", email), zap.Int("matches", len(ids)))
		return OutcomeNoop, nil
	}

	var period Period
	if r.periods != nil {
		period, err = r.periods.FetchPeriod(ctx, e.SubscriptionID)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("fetch subscription period: %w", err)
		}
	} else {
		log.Warn("no period fetcher configured, storing subscription without period")
	}

	sub := model.Subscription{
		UserID:               ids[0],
		StripeCustomerID:     e.CustomerID,
		StripeSubscriptionID: e.SubscriptionID,
		Status:               model.SubscriptionActive,
		CurrentPeriodStart:   period.Start,
		CurrentPeriodEnd:     period.End,
	}
	if err := r.store.Upsert(ctx, sub); err != nil {
		return OutcomeFailed, fmt.Errorf("upsert subscription: %w", err)
	}

	log.Info("subscription activated", zap.String("user_id", sub.UserID))
	return OutcomeApplied, nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, e SubscriptionUpdated) (Outcome, error) {
	patch := model.SubscriptionPatch{
		Status:      model.SubscriptionStatusFromProvider(e.ProviderStatus),
		PeriodStart: e.PeriodStart,
		PeriodEnd:   e.PeriodEnd,
	}
	return r.update(ctx, e.base, e.SubscriptionID, patch)
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, e SubscriptionDeleted) (Outcome, error) {
	return r.update(ctx, e.base, e.SubscriptionID, model.SubscriptionPatch{Status: model.SubscriptionCancelled})
}

func (r *Reconciler) invoicePaymentFailed(ctx context.Context, e InvoicePaymentFailed) (Outcome, error) {
	if e.SubscriptionID == "" {
		return OutcomeNoop, nil
	}
	return r.update(ctx, e.base, e.SubscriptionID, model.SubscriptionPatch{Status: model.SubscriptionPastDue})
}

func (r *Reconciler) update(ctx context.Context, b base, subscriptionID string, patch model.SubscriptionPatch) (Outcome, error) {
	n, err := r.store.UpdateBySubscriptionID(ctx, subscriptionID, patch)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}
	if n == 0 {
		logger.Log.Info("no subscription record for event",
			zap.String("event_id", b.ID), zap.String("type", b.Type), zap.String("subscription_id", subscriptionID))
		return OutcomeNoop, nil
	}
	return OutcomeApplied, nil
}
