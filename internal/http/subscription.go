package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/http/middleware"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

// SubscriptionReader is satisfied by repository.SubscriptionsRepository.
type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID string) (*model.Subscription, error)
}

type subscriptionResp struct {
	Subscribed       bool       `json:"subscribed"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// subscriptionHandler answers the client's post-checkout poll.
func subscriptionHandler(subs SubscriptionReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		sub, err := subs.GetByUserID(c.Request().Context(), id.ID)
		if err != nil {
			logger.Log.Error("subscription lookup failed", zap.String("user_id", id.ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		resp := subscriptionResp{Subscribed: sub.Active(), Status: "none"}
		if sub != nil {
			resp.Status = sub.Status.String()
			resp.CurrentPeriodEnd = sub.CurrentPeriodEnd
		}
		return c.JSON(http.StatusOK, resp)
	}
}
