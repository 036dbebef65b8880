// Package eventlog persists domain events and delivers them to the broker in
// per-aggregate order.
package eventlog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Header names carried on every broker message.
const (
	HeaderEventID        = "event-id"
	HeaderSequenceNumber = "sequence-number"
	HeaderAggregateID    = "aggregate-id"
	HeaderEventType      = "event-type"
)

// Event is an append-only record. Only PublishedAt changes after insert.
type Event struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	Type          string
	Sequence      int64
	Payload       map[string]any
	OccurredAt    time.Time
	PublishedAt   *time.Time
}

func (e Event) Published() bool { return e.PublishedAt != nil }

// Envelope is the JSON body of a broker message.
type Envelope struct {
	EventID       string         `json:"event_id"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	EventType     string         `json:"event_type"`
	Sequence      int64          `json:"sequence"`
	Payload       map[string]any `json:"payload"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Producer      string         `json:"producer"`
}

// Message is what the broker transport sends. Key is the aggregate id so
// that one aggregate always lands on the same partition.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

func NewEnvelope(e Event, producer string) Envelope {
	return Envelope{
		EventID:       e.ID.String(),
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.Type,
		Sequence:      e.Sequence,
		Payload:       e.Payload,
		OccurredAt:    e.OccurredAt,
		Producer:      producer,
	}
}

func Encode(e Event, producer string) (Message, error) {
	body, err := json.Marshal(NewEnvelope(e, producer))
	if err != nil {
		return Message{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return Message{
		Key:   []byte(e.AggregateID),
		Value: body,
		Headers: map[string]string{
			HeaderEventID:        e.ID.String(),
			HeaderSequenceNumber: strconv.FormatInt(e.Sequence, 10),
			HeaderAggregateID:    e.AggregateID,
			HeaderEventType:      e.Type,
		},
	}, nil
}

func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" || env.AggregateID == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event or aggregate id")
	}
	return env, nil
}

// DecodePayload converts the generic payload into a typed struct.
func DecodePayload[T any](payload map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
