package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

func newTestService(store *memStore, policy AckPolicy) *Service {
	return NewService(NewStripeVerifier(testSecret, 0), NewReconciler(store, store, nil), policy)
}

func TestService_CheckoutThenRedelivery(t *testing.T) {
	store := newMemStore()
	store.addProfile("u1", "a@example.com")
	svc := newTestService(store, AckAlways)

	payload := eventPayload(t, "evt_1", TypeCheckoutCompleted, map[string]any{
		"mode":             "subscription",
		"subscription":     "sub_1",
		"customer":         "cus_1",
		"customer_details": map[string]any{"email": "a@example.com"},
	})
	header := sign(t, payload, testSecret, time.Now())

	rc, err := svc.Handle(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", rc.EventID)
	assert.Equal(t, "sub_1", rc.SubscriptionID)
	assert.Equal(t, OutcomeApplied, rc.Outcome)
	first, _ := store.get("u1")

	_, err = svc.Handle(context.Background(), payload, header)
	require.NoError(t, err)
	second, _ := store.get("u1")
	assert.Equal(t, first, second)
	assert.Equal(t, model.SubscriptionActive, second.Status)
}

func TestService_SubscriptionUpdatedRedelivery(t *testing.T) {
	store := newMemStore()
	store.subs["u1"] = model.Subscription{UserID: "u1", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", Status: model.SubscriptionActive}
	svc := newTestService(store, AckOnSuccess)

	payload := eventPayload(t, "evt_upd", TypeSubscriptionUpdated, map[string]any{
		"id":                   "sub_1",
		"status":               "past_due",
		"current_period_start": 1800000000,
		"current_period_end":   1802592000,
	})
	header := sign(t, payload, testSecret, time.Now())

	rc, err := svc.Handle(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, rc.Outcome)
	first, _ := store.get("u1")

	rc, err = svc.Handle(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, rc.Outcome)
	second, _ := store.get("u1")

	assert.Equal(t, first, second)
	assert.Equal(t, model.SubscriptionPastDue, second.Status)
	assert.Equal(t, "cus_1", second.StripeCustomerID)
	require.NotNil(t, second.CurrentPeriodEnd)
	assert.Equal(t, time.Unix(1802592000, 0).UTC(), second.CurrentPeriodEnd.UTC())
}

func TestService_InvalidSignatureMutatesNothing(t *testing.T) {
	store := newMemStore()
	store.subs["u1"] = model.Subscription{UserID: "u1", StripeSubscriptionID: "sub_1", Status: model.SubscriptionActive}
	svc := newTestService(store, AckAlways)

	payload := eventPayload(t, "evt_1", TypeSubscriptionDeleted, map[string]any{"id": "sub_1"})
	_, err := svc.Handle(context.Background(), payload, sign(t, payload, "whsec_wrong", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	sub, _ := store.get("u1")
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.Zero(t, store.updates)
}

func TestService_AckPolicy(t *testing.T) {
	payload := eventPayload(t, "evt_1", TypeSubscriptionDeleted, map[string]any{"id": "sub_1"})
	header := sign(t, payload, testSecret, time.Now())

	store := newMemStore()
	store.failNext = errStore
	rc, err := newTestService(store, AckAlways).Handle(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, rc.Outcome)

	store.failNext = errStore
	rc, err = newTestService(store, AckOnSuccess).Handle(context.Background(), payload, header)
	assert.ErrorIs(t, err, ErrHandlerFailed)
	require.NotNil(t, rc)
	assert.Equal(t, OutcomeFailed, rc.Outcome)
}

func TestParseAckPolicy(t *testing.T) {
	p, err := ParseAckPolicy("")
	require.NoError(t, err)
	assert.Equal(t, AckAlways, p)

	p, err = ParseAckPolicy("on_success")
	require.NoError(t, err)
	assert.Equal(t, AckOnSuccess, p)

	_, err = ParseAckPolicy("sometimes")
	assert.Error(t, err)
}
