package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

var (
	ErrInvalidSignature = errors.New("invalid event signature")
	ErrMalformedEvent   = errors.New("malformed event")
)

// Envelope is a verified provider event before it is decoded into a variant.
type Envelope struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// SignatureVerifier authenticates raw, unparsed event bytes.
type SignatureVerifier interface {
	Verify(payload []byte, signatureHeader string) (*Envelope, error)
}

// StripeVerifier checks the Stripe-Signature header with the endpoint secret.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

var _ SignatureVerifier = (*StripeVerifier)(nil)

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (*Envelope, error) {
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}

	if ev.Type == "" || ev.Data == nil {
		return nil, fmt.Errorf("%w: event without type or data", ErrMalformedEvent)
	}

	return &Envelope{ID: ev.ID, Type: string(ev.Type), Object: ev.Data.Raw}, nil
}
