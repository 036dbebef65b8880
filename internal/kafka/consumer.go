package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/eventlog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/order-fulfillment/internal/kafka")

// Handler returns nil only when the message is processed and its offset may
// be committed.
type Handler func(ctx context.Context, msg eventlog.Message) error

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	retryBase = 200 * time.Millisecond
	retryMax  = 10 * time.Second
)

// Consumer fans messages out to a fixed set of workers. Every partition is
// owned by exactly one worker, so messages sharing a key are handled one at
// a time and in offset order. A failed message is retried in place and
// blocks its partition until it succeeds.
type Consumer struct {
	r       Reader
	workers int
	log     *zap.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return NewConsumerWithReader(r, workers, log)
}

func NewConsumerWithReader(r Reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log, retryBase: retryBase, retryMax: retryMax}
}

// Start blocks until ctx is cancelled or the reader fails. Messages still
// queued on a worker at that point stay uncommitted and are redelivered.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer func() {
		if err := c.r.Close(); err != nil {
			c.log.Warn("close kafka reader", zap.Error(err))
		}
	}()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs[i] {
				c.process(ctx, h, m)
			}
		}()
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	fields := []zap.Field{
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.String("key", string(m.Key)),
	}

	if ctx.Err() != nil {
		return
	}
	// A later offset must never be committed past a failed one.
	delay := c.retryBase
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, h, m)
		if err == nil {
			break
		}
		c.log.Error("handle message", append(fields, zap.Int("attempt", attempt), zap.Duration("retry_in", delay), zap.Error(err))...)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay = min(delay*2, c.retryMax)
	}

	if err := c.r.CommitMessages(ctx, m); err != nil {
		c.log.Warn("commit offset", append(fields, zap.Error(err))...)
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	headers := headerMap(m.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
	ctx, span := tracer.Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", m.Topic),
			attribute.Int("messaging.kafka.partition", m.Partition),
			attribute.Int64("messaging.kafka.offset", m.Offset),
		))
	defer span.End()

	err := h(ctx, eventlog.Message{Key: m.Key, Value: m.Value, Headers: headers})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
