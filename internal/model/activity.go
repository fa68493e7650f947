package model

import "time"

type ActivityKind string

const (
	ActivityRelay   ActivityKind = "relay"
	ActivityBilling ActivityKind = "billing"
)

func (k ActivityKind) Valid() bool {
	return k == ActivityRelay || k == ActivityBilling
}

// ActivityEvent is the payload published to Kafka and stored in ClickHouse.
// Relay fields and billing fields share one flat record; unused ones stay zero.
type ActivityEvent struct {
	ID         string       `json:"id"          db:"id"` // ULID
	Kind       ActivityKind `json:"kind"        db:"kind"`
	OccurredAt time.Time    `json:"occurred_at" db:"occurred_at"`
	UserID     string       `json:"user_id"     db:"user_id"`
	Outcome    string       `json:"outcome"     db:"outcome"`

	// relay
	ClientKey  string `json:"client_key,omitempty"  db:"client_key"`
	Status     int    `json:"status,omitempty"      db:"status"`
	BytesIn    int64  `json:"bytes_in,omitempty"    db:"bytes_in"`
	BytesOut   int64  `json:"bytes_out,omitempty"   db:"bytes_out"`
	DurationMs int64  `json:"duration_ms,omitempty" db:"duration_ms"`

	// billing
	EventID        string `json:"event_id,omitempty"        db:"event_id"`
	EventType      string `json:"event_type,omitempty"      db:"event_type"`
	SubscriptionID string `json:"subscription_id,omitempty" db:"subscription_id"`
}
