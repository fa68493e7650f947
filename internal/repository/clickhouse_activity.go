package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

// ActivityRepository stores and lists relay/billing activity in ClickHouse.
type ActivityRepository interface {
	InsertBatch(ctx context.Context, events []model.ActivityEvent) error
	ListByUser(ctx context.Context, userID string, kind model.ActivityKind, limit, offset int) ([]model.ActivityEvent, error)
}

type chActivityRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewActivityRepository(ch *sqlx.DB) ActivityRepository {
	return &chActivityRepository{ch: ch}
}

const activityColumns = `id, kind, occurred_at, user_id, outcome, client_key, status,
	bytes_in, bytes_out, duration_ms, event_id, event_type, subscription_id`

// InsertBatch sends all rows as one ClickHouse block.
func (r *chActivityRepository) InsertBatch(ctx context.Context, events []model.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO imggw.activity ("+activityColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, string(e.Kind), e.OccurredAt, e.UserID, e.Outcome, e.ClientKey, int64(e.Status),
			e.BytesIn, e.BytesOut, e.DurationMs, e.EventID, e.EventType, e.SubscriptionID,
		); err != nil {
			return fmt.Errorf("append %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

func (r *chActivityRepository) ListByUser(ctx context.Context, userID string, kind model.ActivityKind, limit, offset int) ([]model.ActivityEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := "SELECT " + activityColumns + " FROM imggw.activity FINAL WHERE user_id = ?"
	args := []any{userID}

	if kind != "" {
		q += " AND kind = ?"
		args = append(args, string(kind))
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.ActivityEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
