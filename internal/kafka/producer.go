package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/logger"
)

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 50ms
}

// Producer publishes keyed messages without blocking the caller. Delivery
// failures are logged from the writer's completion callback.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c ProducerConfig) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: bt,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Log.Warn("kafka publish failed",
					zap.String("topic", c.Topic),
					zap.Int("messages", len(msgs)),
					zap.Error(err))
			}
		},
	}

	return &Producer{w: w}
}

// Publish enqueues value under key. With an async writer the error only
// reports a closed writer or a cancelled context.
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

// Close flushes pending messages.
func (p *Producer) Close() error { return p.w.Close() }
