package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/imagegen-gateway/internal/http/middleware"
	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

// ActivityLister is satisfied by repository.ActivityRepository.
type ActivityLister interface {
	ListByUser(ctx context.Context, userID string, kind model.ActivityKind, limit, offset int) ([]model.ActivityEvent, error)
}

func listGenerationsHandler(repo ActivityLister) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		rows, err := repo.ListByUser(c.Request().Context(), id.ID, model.ActivityRelay, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
