package relay

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/auth"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/metrics"
	"github.com/jmehdipour/imagegen-gateway/internal/model"
	"github.com/jmehdipour/imagegen-gateway/internal/ratelimit"
)

const DefaultMaxBodyBytes int64 = 10 << 20

type Reason string

const (
	ReasonMethodNotAllowed     Reason = "METHOD_NOT_ALLOWED"
	ReasonMisconfigured        Reason = "SERVER_MISCONFIGURED"
	ReasonRateLimited          Reason = "RATE_LIMITED"
	ReasonUnsupportedMediaType Reason = "UNSUPPORTED_MEDIA_TYPE"
	ReasonPayloadTooLarge      Reason = "PAYLOAD_TOO_LARGE"
	ReasonUnauthorized         Reason = "UNAUTHORIZED"
	ReasonAuthUnavailable      Reason = "AUTH_UNAVAILABLE"
	ReasonSubscriptionRequired Reason = "SUBSCRIPTION_REQUIRED"
	ReasonStoreUnavailable     Reason = "STORE_UNAVAILABLE"
	ReasonBadRequest           Reason = "BAD_REQUEST"
)

// Rejection is returned by Admit when a request must not be relayed.
type Rejection struct {
	Reason     Reason
	Status     int
	Message    string
	RetryAfter int // seconds, only for RATE_LIMITED
	Err        error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Reason, r.Err)
	}
	return string(r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

func reject(reason Reason, status int, msg string, err error) *Rejection {
	return &Rejection{Reason: reason, Status: status, Message: msg, Err: err}
}

// Admission is a request that passed every check, with its body fully read.
type Admission struct {
	Body        []byte
	ContentType string
	ClientKey   string
	Identity    *auth.Identity
}

// SubscriptionReader looks up the caller's subscription for opt-in gating.
type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID string) (*model.Subscription, error)
}

type GuardConfig struct {
	MaxBodyBytes        int64
	Missing             []string // required settings that are empty
	RequireSubscription bool
}

// Guard runs the ordered admission checks in front of the relay.
type Guard struct {
	cfg      GuardConfig
	limiter  ratelimit.Limiter
	verifier auth.Verifier
	subs     SubscriptionReader
	now      func() time.Time
}

func NewGuard(cfg GuardConfig, limiter ratelimit.Limiter, verifier auth.Verifier, subs SubscriptionReader) *Guard {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Guard{cfg: cfg, limiter: limiter, verifier: verifier, subs: subs, now: time.Now}
}

// Admit checks, in order: method, configuration, rate limit, content type,
// declared length, bearer session, optional subscription, actual length.
// Rate limiting runs before the session call to shed load early, and the
// session call runs before the body is buffered.
func (g *Guard) Admit(r *http.Request) (*Admission, error) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		return nil, reject(ReasonMethodNotAllowed, http.StatusMethodNotAllowed, "Method not allowed", nil)
	}

	if len(g.cfg.Missing) > 0 || g.limiter == nil || g.verifier == nil {
		logger.Log.Error("relay misconfigured", zap.Strings("missing", g.cfg.Missing))
		return nil, reject(ReasonMisconfigured, http.StatusInternalServerError, "Server configuration error", nil)
	}

	key := ratelimit.ClientKey(r)
	if rej := g.consume(ctx, key); rej != nil {
		return nil, rej
	}

	contentType := r.Header.Get("Content-Type")
	if !isMultipart(contentType) {
		return nil, reject(ReasonUnsupportedMediaType, http.StatusUnsupportedMediaType, "Unsupported media type", nil)
	}

	if r.ContentLength > g.cfg.MaxBodyBytes {
		return nil, reject(ReasonPayloadTooLarge, http.StatusRequestEntityTooLarge, "Payload too large", nil)
	}

	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, reject(ReasonUnauthorized, http.StatusUnauthorized, "Unauthorized", auth.ErrMissingToken)
	}
	id, err := g.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrUnavailable) {
			logger.Log.Error("session verification failed", zap.Error(err))
			return nil, reject(ReasonAuthUnavailable, http.StatusInternalServerError, "Authentication unavailable", err)
		}
		return nil, reject(ReasonUnauthorized, http.StatusUnauthorized, "Unauthorized", err)
	}

	if g.cfg.RequireSubscription {
		if rej := g.checkSubscription(ctx, id); rej != nil {
			return nil, rej
		}
	}

	body, err := readBounded(r.Body, g.cfg.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return nil, reject(ReasonPayloadTooLarge, http.StatusRequestEntityTooLarge, "Payload too large", err)
		}
		return nil, reject(ReasonBadRequest, http.StatusBadRequest, "Bad request", err)
	}

	return &Admission{Body: body, ContentType: contentType, ClientKey: key, Identity: id}, nil
}

func (g *Guard) consume(ctx context.Context, key string) *Rejection {
	d, err := g.limiter.Allow(ctx, key)
	if err != nil {
		// shared counter store down: let traffic through rather than fail every upload
		metrics.RateLimitDecisionsTotal.WithLabelValues("error").Inc()
		logger.Log.Warn("rate limiter unavailable, allowing request", zap.String("client_key", key), zap.Error(err))
		return nil
	}
	if !d.Allowed {
		metrics.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
		rej := reject(ReasonRateLimited, http.StatusTooManyRequests, "Too many requests", nil)
		rej.RetryAfter = d.RetryAfter(g.now())
		return rej
	}
	metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	return nil
}

func (g *Guard) checkSubscription(ctx context.Context, id *auth.Identity) *Rejection {
	if g.subs == nil {
		return reject(ReasonMisconfigured, http.StatusInternalServerError, "Server configuration error", nil)
	}
	sub, err := g.subs.GetByUserID(ctx, id.ID)
	if err != nil {
		logger.Log.Error("subscription lookup failed", zap.String("user_id", id.ID), zap.Error(err))
		return reject(ReasonStoreUnavailable, http.StatusInternalServerError, "Server error", err)
	}
	if !sub.Active() {
		return reject(ReasonSubscriptionRequired, http.StatusPaymentRequired, "Subscription required", nil)
	}
	return nil
}

func isMultipart(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "multipart/form-data")
	}
	return mt == "multipart/form-data"
}
