package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/auth"
	"github.com/jmehdipour/imagegen-gateway/internal/billing"
	"github.com/jmehdipour/imagegen-gateway/internal/http/middleware"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/ratelimit"
	"github.com/jmehdipour/imagegen-gateway/internal/relay"
	"github.com/jmehdipour/imagegen-gateway/internal/service/activity"
)

// Deps carries everything the routes need. Optional parts may be nil:
// Billing (webhook answers 500), Subscriptions (no /api/subscription),
// Activity (no /api/generations), Recorder (no activity publishing).
type Deps struct {
	Guard    *relay.Guard
	Upstream Upstream
	Verifier auth.Verifier
	Limiter  ratelimit.Limiter
	Profiles middleware.ProfileWriter

	Billing        *billing.Service
	BillingMissing []string

	Subscriptions SubscriptionReader
	Activity      ActivityLister
	Recorder      *activity.Recorder

	// BreakerState reports the upstream breaker on /healthz.
	BreakerState func() string
}

type Server struct{ e *echo.Echo }

func NewServer(d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error {
		if d.BreakerState == nil {
			return c.String(http.StatusOK, "ok")
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "upstream_breaker": d.BreakerState()})
	})

	api := e.Group("/api")

	// every method reaches the guard so non-POST answers 405 from the same path
	api.Any("/webhook", relayHandler(d.Guard, d.Upstream, d.Profiles, d.Recorder))
	api.Any("/billing-webhook", billingWebhookHandler(d.Billing, d.BillingMissing, d.Recorder))

	if d.Verifier != nil {
		// reads get their own bucket so status polling never spends upload quota
		rlMW := middleware.RateLimitMiddleware(ratelimit.WithNamespace(d.Limiter, "read:"))
		authMW := middleware.BearerAuth(d.Verifier, d.Profiles)
		if d.Subscriptions != nil {
			api.GET("/subscription", subscriptionHandler(d.Subscriptions), rlMW, authMW)
		}
		if d.Activity != nil {
			api.GET("/generations", listGenerationsHandler(d.Activity), rlMW, authMW)
		}
	}

	return &Server{e: e}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
