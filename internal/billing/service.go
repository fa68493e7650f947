package billing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/metrics"
)

// AckPolicy decides how a handler failure is answered to the provider.
type AckPolicy string

const (
	// AckAlways answers 2xx for every authenticated, parsed event.
	AckAlways AckPolicy = "always"
	// AckOnSuccess answers 5xx when a handler fails so the provider redelivers.
	AckOnSuccess AckPolicy = "on_success"
)

func ParseAckPolicy(s string) (AckPolicy, error) {
	switch AckPolicy(s) {
	case "", AckAlways:
		return AckAlways, nil
	case AckOnSuccess:
		return AckOnSuccess, nil
	default:
		return "", fmt.Errorf("unknown ack policy %q", s)
	}
}

// ErrHandlerFailed is returned by Service.Handle only under AckOnSuccess.
var ErrHandlerFailed = errors.New("event handler failed")

// Receipt describes what happened to one delivered event.
type Receipt struct {
	EventID        string
	EventType      string
	SubscriptionID string
	Outcome        Outcome
}

// Service runs verify, decode, apply for one webhook delivery.
type Service struct {
	verifier   SignatureVerifier
	reconciler *Reconciler
	policy     AckPolicy
}

func NewService(verifier SignatureVerifier, reconciler *Reconciler, policy AckPolicy) *Service {
	if policy == "" {
		policy = AckAlways
	}
	return &Service{verifier: verifier, reconciler: reconciler, policy: policy}
}

// Handle must receive the raw request body exactly as delivered. Signature and
// parse failures return ErrInvalidSignature / ErrMalformedEvent and leave all
// records untouched.
func (s *Service) Handle(ctx context.Context, payload []byte, signatureHeader string) (*Receipt, error) {
	env, err := s.verifier.Verify(payload, signatureHeader)
	if err != nil {
		metrics.BillingEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}

	ev, err := Decode(env)
	if err != nil {
		metrics.BillingEventsTotal.WithLabelValues(env.Type, "rejected").Inc()
		return nil, err
	}

	rc := &Receipt{EventID: ev.EventID(), EventType: ev.EventType(), SubscriptionID: SubscriptionRef(ev)}

	outcome, err := s.reconciler.Apply(ctx, ev)
	rc.Outcome = outcome
	metrics.BillingEventsTotal.WithLabelValues(ev.EventType(), string(outcome)).Inc()

	if err != nil {
		logger.Log.Error("billing event handler failed",
			zap.String("event_id", rc.EventID),
			zap.String("type", rc.EventType),
			zap.String("ack_policy", string(s.policy)),
			zap.Error(err))
		if s.policy == AckOnSuccess {
			return rc, fmt.Errorf("%w: %v", ErrHandlerFailed, err)
		}
	}
	return rc, nil
}
