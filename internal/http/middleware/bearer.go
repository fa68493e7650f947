package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/auth"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

const identityKey = "identity"

// ProfileWriter records users seen on verified sessions.
type ProfileWriter interface {
	Upsert(ctx context.Context, p model.Profile) error
}

// IdentityFromCtx extracts the identity set by BearerAuth.
func IdentityFromCtx(c echo.Context) (*auth.Identity, bool) {
	id, ok := c.Get(identityKey).(*auth.Identity)
	return id, ok && id != nil
}

// BearerAuth verifies the session token in the Authorization header and stores
// the identity in the context.
func BearerAuth(verifier auth.Verifier, profiles ProfileWriter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := auth.BearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			id, err := verifier.Verify(c.Request().Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrUnavailable) {
					logger.Log.Error("session verification failed", zap.Error(err))
					return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Authentication unavailable"})
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			SyncProfile(c.Request().Context(), profiles, id)
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

// SyncProfile upserts the profile behind id. Failures are logged and never
// block the request.
func SyncProfile(ctx context.Context, profiles ProfileWriter, id *auth.Identity) {
	if profiles == nil || id == nil {
		return
	}
	p := model.Profile{
		ID:       id.ID,
		Email:    sql.NullString{String: id.Email, Valid: id.Email != ""},
		FullName: sql.NullString{String: id.Metadata.FullName, Valid: id.Metadata.FullName != ""},
	}
	if err := profiles.Upsert(ctx, p); err != nil {
		logger.Log.Warn("profile upsert failed", zap.String("user_id", id.ID), zap.Error(err))
	}
}
