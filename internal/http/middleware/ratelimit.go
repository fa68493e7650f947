package middleware

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/metrics"
	"github.com/jmehdipour/imagegen-gateway/internal/ratelimit"
)

// RateLimitMiddleware applies limiter per client key to the read endpoints.
// The relay endpoint is limited inside its guard instead, so that the limit
// runs between the configuration check and the content-type check.
func RateLimitMiddleware(limiter ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter == nil {
				return next(c)
			}

			key := ratelimit.ClientKey(c.Request())
			d, err := limiter.Allow(c.Request().Context(), key)
			if err != nil {
				metrics.RateLimitDecisionsTotal.WithLabelValues("error").Inc()
				logger.Log.Warn("rate limiter unavailable, allowing request", zap.String("client_key", key), zap.Error(err))
				return next(c)
			}

			if !d.Allowed {
				metrics.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
				if secs := d.RetryAfter(time.Now()); secs > 0 {
					c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
			}

			metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
			return next(c)
		}
	}
}
