package eventlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/eventlog"
	"github.com/ariefcatur/order-fulfillment/internal/redisx/redistest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	rdb := redistest.Start(t)
	ctx := context.Background()

	envelope := func(agg string, seq int64) eventlog.Envelope {
		return eventlog.Envelope{EventID: uuid.NewString(), AggregateID: agg, Sequence: seq}
	}

	t.Run("in order then duplicate: ok", func(t *testing.T) {
		redistest.Flush(t, rdb)
		tr := eventlog.NewTracker(rdb, "audit", nil)
		agg := uuid.NewString()

		first := envelope(agg, 1)
		v, err := tr.Observe(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, eventlog.InOrder, v)

		v, err = tr.Observe(ctx, envelope(agg, 2))
		require.NoError(t, err)
		assert.Equal(t, eventlog.InOrder, v)

		v, err = tr.Observe(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, eventlog.Duplicate, v)
	})

	t.Run("gap then late arrival: ok", func(t *testing.T) {
		redistest.Flush(t, rdb)
		tr := eventlog.NewTracker(rdb, "audit", nil)
		agg := uuid.NewString()

		_, err := tr.Observe(ctx, envelope(agg, 1))
		require.NoError(t, err)

		v, err := tr.Observe(ctx, envelope(agg, 3))
		require.NoError(t, err)
		assert.Equal(t, eventlog.Gap, v)

		v, err = tr.Observe(ctx, envelope(agg, 2))
		require.NoError(t, err)
		assert.Equal(t, eventlog.Stale, v)

		v, err = tr.Observe(ctx, envelope(agg, 4))
		require.NoError(t, err)
		assert.Equal(t, eventlog.InOrder, v)
	})

	t.Run("consumers tracked separately: ok", func(t *testing.T) {
		redistest.Flush(t, rdb)
		agg := uuid.NewString()
		e := envelope(agg, 1)

		for _, name := range []string{"audit", "notifications"} {
			v, err := eventlog.NewTracker(rdb, name, nil).Observe(ctx, e)
			require.NoError(t, err)
			assert.Equal(t, eventlog.InOrder, v, name)
		}
	})

	t.Run("handle decodes and records: ok", func(t *testing.T) {
		redistest.Flush(t, rdb)
		tr := eventlog.NewTracker(rdb, "audit", nil)
		e := eventlog.Event{
			ID:            uuid.New(),
			AggregateType: "Order",
			AggregateID:   uuid.NewString(),
			Type:          "OrderCreated",
			Sequence:      1,
			Payload:       map[string]any{"status": "PENDING_PAYMENT"},
			OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		msg, err := eventlog.Encode(e, "test")
		require.NoError(t, err)

		require.NoError(t, tr.Handle(ctx, msg))

		v, err := tr.Observe(ctx, eventlog.NewEnvelope(e, "test"))
		require.NoError(t, err)
		assert.Equal(t, eventlog.Duplicate, v)
	})

	t.Run("handle skips junk: ok", func(t *testing.T) {
		tr := eventlog.NewTracker(rdb, "audit", nil)
		assert.NoError(t, tr.Handle(ctx, eventlog.Message{Key: []byte("k"), Value: []byte("not json")}))
		assert.NoError(t, tr.Handle(ctx, eventlog.Message{Value: []byte(`{"event_type":"OrderCreated"}`)}))
	})
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "gap", eventlog.Gap.String())
	assert.Equal(t, "duplicate", eventlog.Duplicate.String())
	assert.Equal(t, "verdict(9)", eventlog.Verdict(9).String())
}
