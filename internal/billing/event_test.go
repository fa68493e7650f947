package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(t *testing.T, typ string, object string) *Envelope {
	t.Helper()
	return &Envelope{ID: "evt_x", Type: typ, Object: json.RawMessage(object)}
}

func TestDecode_CheckoutCompleted(t *testing.T) {
	ev, err := Decode(env(t, TypeCheckoutCompleted,
		`{"mode":"subscription","subscription":"sub_1","customer":{"id":"cus_1"},"customer_details":{"email":"a@example.com"}}`))
	require.NoError(t, err)

	c, ok := ev.(CheckoutCompleted)
	require.True(t, ok)
	assert.Equal(t, "subscription", c.Mode)
	assert.Equal(t, "sub_1", c.SubscriptionID)
	assert.Equal(t, "cus_1", c.CustomerID)
	assert.Equal(t, "a@example.com", c.Email)
	assert.Equal(t, "sub_1", SubscriptionRef(ev))
}

func TestDecode_CheckoutPrefersCustomerEmail(t *testing.T) {
	ev, err := Decode(env(t, TypeCheckoutCompleted,
		`{"mode":"subscription","subscription":"sub_1","customer_email":"first@example.com","customer_details":{"email":"second@example.com"}}`))
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", ev.(CheckoutCompleted).Email)
}

func TestDecode_SubscriptionUpdated_PeriodFallback(t *testing.T) {
	ev, err := Decode(env(t, TypeSubscriptionUpdated,
		`{"id":"sub_1","status":"trialing","items":{"data":[{"current_period_start":1700000000,"current_period_end":1702592000}]}}`))
	require.NoError(t, err)

	u := ev.(SubscriptionUpdated)
	assert.Equal(t, "trialing", u.ProviderStatus)
	require.NotNil(t, u.PeriodStart)
	require.NotNil(t, u.PeriodEnd)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *u.PeriodStart)
	assert.Equal(t, time.Unix(1702592000, 0).UTC(), *u.PeriodEnd)
}

func TestDecode_InvoiceSubscriptionFromParent(t *testing.T) {
	ev, err := Decode(env(t, TypeInvoicePaymentFailed,
		`{"parent":{"subscription_details":{"subscription":"sub_9"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "sub_9", ev.(InvoicePaymentFailed).SubscriptionID)
}

func TestDecode_UnknownTypeIgnored(t *testing.T) {
	ev, err := Decode(env(t, "customer.created", `{"id":"cus_1"}`))
	require.NoError(t, err)
	_, ok := ev.(Ignored)
	assert.True(t, ok)
	assert.Equal(t, "customer.created", ev.EventType())
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(env(t, TypeSubscriptionDeleted, `{"status":"canceled"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Decode(env(t, TypeSubscriptionUpdated, `[1,2]`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Decode(&Envelope{ID: "evt", Type: TypeCheckoutCompleted})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
