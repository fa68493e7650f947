package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripeVerifier_Valid(t *testing.T) {
	v := NewStripeVerifier(testSecret, 0)
	payload := eventPayload(t, "evt_1", TypeSubscriptionDeleted, map[string]any{"id": "sub_1"})

	env, err := v.Verify(payload, sign(t, payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", env.ID)
	assert.Equal(t, TypeSubscriptionDeleted, env.Type)
	assert.JSONEq(t, `{"id":"sub_1"}`, string(env.Object))
}

func TestStripeVerifier_Rejects(t *testing.T) {
	v := NewStripeVerifier(testSecret, time.Minute)
	payload := eventPayload(t, "evt_1", TypeSubscriptionDeleted, map[string]any{"id": "sub_1"})

	cases := map[string]string{
		"missing header": "",
		"wrong secret":   sign(t, payload, "whsec_other", time.Now()),
		"too old":        sign(t, payload, testSecret, time.Now().Add(-time.Hour)),
		"garbage header": "nonsense",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(payload, header)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestStripeVerifier_TamperedBody(t *testing.T) {
	v := NewStripeVerifier(testSecret, 0)
	payload := eventPayload(t, "evt_1", TypeSubscriptionDeleted, map[string]any{"id": "sub_1"})
	header := sign(t, payload, testSecret, time.Now())

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '

	_, err := v.Verify(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeVerifier_SignedButNotJSON(t *testing.T) {
	v := NewStripeVerifier(testSecret, 0)
	payload := []byte("not json")

	_, err := v.Verify(payload, sign(t, payload, testSecret, time.Now()))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
