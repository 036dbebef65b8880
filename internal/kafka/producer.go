package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/eventlog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Writer is the subset of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes synchronously: Publish returns once every in-sync replica
// has the message. The Hash balancer keeps one key on one partition.
type Producer struct {
	w   Writer
	log *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}, log)
}

func NewProducerWithWriter(w Writer, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{w: w, log: log}
}

func (p *Producer) Publish(ctx context.Context, msg eventlog.Message) error {
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	err := p.w.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Time:    time.Now(),
		Headers: toKafkaHeaders(headers),
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	if err := p.w.Close(); err != nil {
		p.log.Warn("close kafka writer", zap.Error(err))
		return err
	}
	return nil
}
