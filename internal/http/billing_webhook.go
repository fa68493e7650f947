package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/billing"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/service/activity"
)

const maxWebhookBytes = 1 << 20

// billingWebhookHandler authenticates the raw body before anything parses it.
// svc is nil when the webhook secret or the store is not configured.
func billingWebhookHandler(svc *billing.Service, missing []string, rec *activity.Recorder) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Method != http.MethodPost {
			c.Response().Header().Set("Allow", http.MethodPost)
			return c.JSON(http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		}

		if svc == nil {
			logger.Log.Error("billing webhook misconfigured", zap.Strings("missing", missing))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server configuration error"})
		}

		payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes+1))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Webhook Error: unreadable body"})
		}
		// a truncated body would only fail as a bad signature
		if len(payload) > maxWebhookBytes {
			logger.Log.Warn("billing webhook payload too large", zap.Int("limit", maxWebhookBytes))
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "Webhook Error: payload too large"})
		}

		rc, err := svc.Handle(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature"))
		if rc != nil {
			rec.RecordBilling(c.Request().Context(), activity.Billing{
				EventID:        rc.EventID,
				EventType:      rc.EventType,
				SubscriptionID: rc.SubscriptionID,
				Outcome:        string(rc.Outcome),
			})
		}

		switch {
		case err == nil:
			return c.JSON(http.StatusOK, map[string]bool{"received": true})
		case errors.Is(err, billing.ErrInvalidSignature), errors.Is(err, billing.ErrMalformedEvent):
			logger.Log.Warn("billing webhook rejected", zap.Error(err))
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Webhook Error: " + err.Error()})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Webhook handler failed"})
		}
	}
}
