package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/http/middleware"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/metrics"
	"github.com/jmehdipour/imagegen-gateway/internal/relay"
	"github.com/jmehdipour/imagegen-gateway/internal/service/activity"
)

// Upstream is satisfied by *relay.Client.
type Upstream interface {
	Relay(ctx context.Context, body []byte, contentType string) (*relay.Result, error)
}

const proxyFailed = "Failed to proxy request"

func relayHandler(guard *relay.Guard, upstream Upstream, profiles middleware.ProfileWriter, rec *activity.Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		start := time.Now()

		adm, err := guard.Admit(c.Request())
		if err != nil {
			var rej *relay.Rejection
			if !errors.As(err, &rej) {
				logger.Log.Error("relay admission failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server error"})
			}

			outcome := strings.ToLower(string(rej.Reason))
			metrics.RelayRequestsTotal.WithLabelValues(outcome).Inc()
			if rej.Reason == relay.ReasonRateLimited {
				c.Response().Header().Set("Retry-After", strconv.Itoa(max(rej.RetryAfter, 1)))
			}
			return c.JSON(rej.Status, map[string]string{"error": rej.Message})
		}

		middleware.SyncProfile(ctx, profiles, adm.Identity)

		a := activity.Relay{
			UserID:    adm.Identity.ID,
			ClientKey: adm.ClientKey,
			BytesIn:   int64(len(adm.Body)),
		}

		res, err := upstream.Relay(ctx, adm.Body, adm.ContentType)
		a.Duration = time.Since(start)
		if err != nil {
			logger.Log.Error("relay upstream failed",
				zap.String("user_id", a.UserID),
				zap.Duration("took", a.Duration),
				zap.Error(err))
			a.Outcome = "upstream_error"
			metrics.RelayRequestsTotal.WithLabelValues(a.Outcome).Inc()
			rec.RecordRelay(ctx, a)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": proxyFailed})
		}

		a.Status = res.Status
		a.BytesOut = int64(len(res.Body))

		if !res.OK() {
			logger.Log.Error("relay upstream rejected request",
				zap.String("user_id", a.UserID),
				zap.Int("status", res.Status),
				zap.Int("body_bytes", len(res.Body)))
			a.Outcome = "upstream_status"
			metrics.RelayRequestsTotal.WithLabelValues(a.Outcome).Inc()
			rec.RecordRelay(ctx, a)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": proxyFailed})
		}

		a.Outcome = "relayed"
		metrics.RelayRequestsTotal.WithLabelValues(a.Outcome).Inc()
		rec.RecordRelay(ctx, a)

		return c.Blob(res.Status, res.ContentType, res.Body)
	}
}
