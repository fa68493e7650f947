// Package activity publishes relay and billing activity to Kafka for the
// recorder worker to store in ClickHouse.
package activity

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/model"
	"github.com/jmehdipour/imagegen-gateway/internal/util"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Relay describes one finished relay attempt.
type Relay struct {
	UserID    string
	ClientKey string
	Outcome   string
	Status    int
	BytesIn   int64
	BytesOut  int64
	Duration  time.Duration
}

// Billing describes one processed billing event.
type Billing struct {
	EventID        string
	EventType      string
	SubscriptionID string
	Outcome        string
}

// Recorder is safe to use as a nil pointer; recording is then a no-op.
type Recorder struct {
	pub Publisher
	now func() time.Time
}

func NewRecorder(pub Publisher) *Recorder {
	return &Recorder{pub: pub, now: time.Now}
}

func (r *Recorder) RecordRelay(ctx context.Context, a Relay) {
	if r == nil {
		return
	}
	r.publish(ctx, model.ActivityEvent{
		Kind:       model.ActivityRelay,
		UserID:     a.UserID,
		Outcome:    a.Outcome,
		ClientKey:  a.ClientKey,
		Status:     a.Status,
		BytesIn:    a.BytesIn,
		BytesOut:   a.BytesOut,
		DurationMs: a.Duration.Milliseconds(),
	})
}

func (r *Recorder) RecordBilling(ctx context.Context, b Billing) {
	if r == nil {
		return
	}
	r.publish(ctx, model.ActivityEvent{
		Kind:           model.ActivityBilling,
		Outcome:        b.Outcome,
		EventID:        b.EventID,
		EventType:      b.EventType,
		SubscriptionID: b.SubscriptionID,
	})
}

func (r *Recorder) publish(ctx context.Context, ev model.ActivityEvent) {
	ev.OccurredAt = r.now().UTC()
	ev.ID = util.NewID(ev.OccurredAt)

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error("marshal activity", zap.Error(err))
		return
	}

	key := ev.UserID
	if key == "" {
		key = ev.SubscriptionID
	}

	// Activity is best effort and must outlive a cancelled request.
	if err := r.pub.Publish(context.WithoutCancel(ctx), []byte(key), payload); err != nil {
		logger.Log.Warn("publish activity",
			zap.String("id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}
