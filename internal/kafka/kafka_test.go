package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/eventlog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWriter struct {
	mu     sync.Mutex
	err    error
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerPublish(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	w := &fakeWriter{}
	p := NewProducerWithWriter(w, nil)
	err := p.Publish(ctx, eventlog.Message{
		Key:   []byte("order-1"),
		Value: []byte(`{}`),
		Headers: map[string]string{
			eventlog.HeaderEventID:        "e-1",
			eventlog.HeaderSequenceNumber: "3",
		},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	require.Len(t, w.msgs, 1)
	got := w.msgs[0]
	assert.Equal(t, "order-1", string(got.Key))

	headers := headerMap(got.Headers)
	assert.Equal(t, "e-1", headers[eventlog.HeaderEventID])
	assert.Equal(t, "3", headers[eventlog.HeaderSequenceNumber])
	assert.Contains(t, headers["traceparent"], span.SpanContext().TraceID().String())
	assert.True(t, w.closed)

	keys := make([]string, 0, len(got.Headers))
	for _, h := range got.Headers {
		keys = append(keys, h.Key)
	}
	assert.IsIncreasing(t, keys)
}

func TestProducerWriteError(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{err: errors.New("leader not available")}, nil)
	err := p.Publish(context.Background(), eventlog.Message{Key: []byte("k")})
	require.ErrorContains(t, err, "leader not available")
}

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestConsumerKeepsPartitionOrder(t *testing.T) {
	const partitions, perPartition = 3, 20
	r := &fakeReader{msgs: make(chan kafka.Message, partitions*perPartition)}
	for off := range perPartition {
		for p := range partitions {
			r.msgs <- kafka.Message{
				Topic:     "order.events",
				Partition: p,
				Offset:    int64(off),
				Key:       []byte(fmt.Sprintf("order-%d", p)),
			}
		}
	}

	var mu sync.Mutex
	seen := map[string][]int64{}
	handler := func(_ context.Context, msg eventlog.Message) error {
		mu.Lock()
		defer mu.Unlock()
		key := string(msg.Key)
		seen[key] = append(seen[key], int64(len(seen[key])))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewConsumerWithReader(r, 2, nil).Start(ctx, handler) }()

	require.Eventually(t, func() bool { return r.commitCount() == partitions*perPartition }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.True(t, r.closed)

	last := map[int]int64{}
	for _, m := range r.committed {
		prev, ok := last[m.Partition]
		if ok {
			assert.Greater(t, m.Offset, prev, "partition %d committed out of order", m.Partition)
		}
		last[m.Partition] = m.Offset
	}
	for p := range partitions {
		assert.Len(t, seen[fmt.Sprintf("order-%d", p)], perPartition)
	}
}

func TestConsumerRetriesFailureBeforeCommitting(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 2)}
	r.msgs <- kafka.Message{Partition: 0, Offset: 0, Key: []byte("bad")}
	r.msgs <- kafka.Message{Partition: 0, Offset: 1, Key: []byte("good")}

	var mu sync.Mutex
	var handled []string
	failures := 2
	handler := func(_ context.Context, msg eventlog.Message) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, string(msg.Key))
		if string(msg.Key) == "bad" && failures > 0 {
			failures--
			return errors.New("boom")
		}
		return nil
	}

	c := NewConsumerWithReader(r, 1, nil)
	c.retryBase, c.retryMax = time.Millisecond, 5*time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, handler) }()

	require.Eventually(t, func() bool { return r.commitCount() == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"bad", "bad", "bad", "good"}, handled)
	assert.Equal(t, []int64{0, 1}, []int64{r.committed[0].Offset, r.committed[1].Offset})
}

func TestConsumerStopsRetryingOnCancel(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 2)}
	r.msgs <- kafka.Message{Partition: 0, Offset: 0, Key: []byte("bad")}
	r.msgs <- kafka.Message{Partition: 0, Offset: 1, Key: []byte("good")}

	attempts := make(chan string, 64)
	handler := func(_ context.Context, msg eventlog.Message) error {
		select {
		case attempts <- string(msg.Key):
		default:
		}
		return errors.New("still down")
	}

	c := NewConsumerWithReader(r, 1, nil)
	c.retryBase, c.retryMax = time.Millisecond, 2*time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, handler) }()

	for range 3 {
		assert.Equal(t, "bad", <-attempts)
	}
	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, r.commitCount())
	close(attempts)
	for key := range attempts {
		assert.Equal(t, "bad", key)
	}
}

func TestHeaderConversion(t *testing.T) {
	in := map[string]string{"b": "2", "a": "1"}
	hs := toKafkaHeaders(in)
	require.Len(t, hs, 2)
	assert.Equal(t, "a", hs[0].Key)
	assert.Equal(t, in, headerMap(hs))
}
