package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/order-fulfillment/internal/eventlog")

// MessagePublisher is the broker transport. Publish returns after the broker
// acknowledged the message.
type MessagePublisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Publisher struct {
	store    Store
	broker   MessagePublisher
	producer string
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Publisher)

func WithClock(now func() time.Time) Option { return func(p *Publisher) { p.now = now } }

func NewPublisher(store Store, broker MessagePublisher, producer string, timeout time.Duration, log *zap.Logger, opts ...Option) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		store:    store,
		broker:   broker,
		producer: producer,
		timeout:  timeout,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish records a new event for the aggregate and hands it to the broker.
// Only a storage failure is returned; a broker failure leaves the event
// unpublished for the relay.
func (p *Publisher) Publish(ctx context.Context, aggregateType, aggregateID, eventType string, payload map[string]any) (Event, error) {
	return p.PublishEvent(ctx, Event{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
		OccurredAt:    p.now().UTC(),
	})
}

// PublishEvent stores e unless an event with the same id exists, then sends
// it. A repeated id is returned as is without a second send.
func (p *Publisher) PublishEvent(ctx context.Context, e Event) (_ Event, err error) {
	ctx, span := tracer.Start(ctx, "eventlog.Publish", trace.WithAttributes(
		attribute.String("event.type", e.Type),
		attribute.String("aggregate.id", e.AggregateID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	exists, err := p.store.Exists(ctx, e.ID)
	if err != nil {
		return Event{}, fmt.Errorf("store.Exists: %w", err)
	}
	if exists {
		p.log.Info("event already stored, skipping", zap.String("event_id", e.ID.String()))
		return e, nil
	}

	stored, err := p.store.Append(ctx, e)
	if errors.Is(err, ErrDuplicateEvent) {
		return e, nil
	}
	if err != nil {
		return Event{}, fmt.Errorf("store.Append: %w", err)
	}
	span.SetAttributes(attribute.Int64("event.sequence", stored.Sequence))

	if err := p.send(ctx, stored); err != nil {
		p.log.Warn("event stored but not published",
			zap.String("event_id", stored.ID.String()),
			zap.String("event_type", stored.Type),
			zap.String("aggregate_id", stored.AggregateID),
			zap.Int64("sequence", stored.Sequence),
			zap.Error(err))
		return stored, nil
	}
	at := p.now().UTC()
	stored.PublishedAt = &at
	return stored, nil
}

// send delivers one stored event and marks it published on ack.
func (p *Publisher) send(ctx context.Context, e Event) error {
	msg, err := Encode(e, p.producer)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.broker.Publish(sendCtx, msg); err != nil {
		return fmt.Errorf("broker.Publish: %w", err)
	}

	if err := p.store.MarkPublished(ctx, e.ID, p.now().UTC()); err != nil {
		return fmt.Errorf("store.MarkPublished: %w", err)
	}
	p.log.Debug("event published",
		zap.String("event_id", e.ID.String()),
		zap.String("event_type", e.Type),
		zap.Int64("sequence", e.Sequence))
	return nil
}

func (p *Publisher) Events(ctx context.Context, aggregateID string) ([]Event, error) {
	return p.store.ByAggregate(ctx, aggregateID)
}
