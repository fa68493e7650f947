package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/kafka"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/metrics"
	"github.com/jmehdipour/imagegen-gateway/internal/model"
)

// Source is satisfied by *kafka.Consumer.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Sink is satisfied by repository.ActivityRepository.
type Sink interface {
	InsertBatch(ctx context.Context, events []model.ActivityEvent) error
}

// Recorder:
// - fetches activity events from Kafka,
// - buffers them by size/time,
// - writes each buffer to ClickHouse in one block, then commits offsets.
//
// Offsets are committed only after the block is stored, so a crash replays
// at most one buffer; rows share a ULID so replays collapse in ClickHouse.
type Recorder struct {
	Source    Source
	Sink      Sink
	BatchSize int
	BatchWait time.Duration
}

func NewRecorder(src Source, sink Sink) *Recorder {
	return &Recorder{
		Source:    src,
		Sink:      sink,
		BatchSize: 200,
		BatchWait: 500 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled, then flushes what it holds.
func (w *Recorder) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 500 * time.Millisecond
	}

	msgCh := make(chan kafka.Message, w.BatchSize)

	go func() {
		defer close(msgCh)
		for {
			m, err := w.Source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Warn("kafka fetch", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	b := &batch{}

	for {
		select {
		case <-ctx.Done():
			w.drain(b, msgCh)
			return nil

		case m, ok := <-msgCh:
			if !ok {
				w.drain(b, nil)
				return nil
			}
			b.add(m)
			if len(b.msgs) >= w.BatchSize {
				w.flush(ctx, b)
			}

		case <-tick.C:
			w.flush(ctx, b)
		}
	}
}

type batch struct {
	events []model.ActivityEvent
	msgs   []kafka.Message
}

func (b *batch) add(m kafka.Message) {
	b.msgs = append(b.msgs, m)

	var ev model.ActivityEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ID == "" || !ev.Kind.Valid() {
		// poison: committed with the batch, never stored
		metrics.ActivityRecordedTotal.WithLabelValues("poison").Inc()
		logger.Log.Warn("skip malformed activity",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
		return
	}
	b.events = append(b.events, ev)
}

func (b *batch) reset() {
	b.events = b.events[:0]
	b.msgs = b.msgs[:0]
}

// flush keeps the batch on a store failure so the next tick retries it.
func (w *Recorder) flush(ctx context.Context, b *batch) {
	if len(b.msgs) == 0 {
		return
	}

	if err := w.Sink.InsertBatch(ctx, b.events); err != nil {
		metrics.ActivityRecordedTotal.WithLabelValues("failed").Add(float64(len(b.events)))
		logger.Log.Error("store activity batch", zap.Int("events", len(b.events)), zap.Error(err))
		return
	}
	metrics.ActivityRecordedTotal.WithLabelValues("stored").Add(float64(len(b.events)))

	if err := w.Source.Commit(ctx, b.msgs...); err != nil {
		logger.Log.Warn("kafka commit", zap.Int("messages", len(b.msgs)), zap.Error(err))
	}

	logger.Log.Debug("activity flushed", zap.Int("events", len(b.events)), zap.Int("messages", len(b.msgs)))
	b.reset()
}

// drain takes whatever the fetcher already handed over, then flushes.
func (w *Recorder) drain(b *batch, pending <-chan kafka.Message) {
	for pending != nil {
		select {
		case m, ok := <-pending:
			if !ok {
				pending = nil
				continue
			}
			b.add(m)
		default:
			pending = nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flush(ctx, b)
}
