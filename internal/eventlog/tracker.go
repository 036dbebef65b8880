package eventlog

import (
	"context"
	"fmt"

	"github.com/ariefcatur/order-fulfillment/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Verdict int

const (
	// InOrder is the next expected sequence of its aggregate, or the first
	// one this consumer has seen.
	InOrder Verdict = iota
	// Gap means at least one earlier sequence has not been seen yet.
	Gap
	// Stale is a sequence at or below one already processed under a
	// different event id.
	Stale
	// Duplicate is an event id already processed.
	Duplicate
)

func (v Verdict) String() string {
	switch v {
	case InOrder:
		return "in_order"
	case Gap:
		return "gap"
	case Stale:
		return "stale"
	case Duplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// advanceSeq stores ARGV[1] as the last sequence when it is higher than the
// current one and returns the previous value (0 when unset).
var advanceSeq = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
local seq = tonumber(ARGV[1])
if seq > last then
	redis.call('SET', KEYS[1], seq, 'PX', ARGV[2])
end
return last
`)

// Tracker is the consumer-side view of the log: it drops events already
// handled and reports sequence gaps per aggregate.
type Tracker struct {
	rdb      redis.Cmdable
	consumer string
	log      *zap.Logger
}

func NewTracker(rdb redis.Cmdable, consumer string, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{rdb: rdb, consumer: consumer, log: log}
}

func (t *Tracker) Observe(ctx context.Context, env Envelope) (Verdict, error) {
	fresh, err := t.rdb.SetNX(ctx, redisx.DedupKey(t.consumer, env.EventID), 1, redisx.TTLDedup).Result()
	if err != nil {
		return InOrder, fmt.Errorf("redis setnx dedup: %w", err)
	}
	if !fresh {
		return Duplicate, nil
	}

	last, err := advanceSeq.Run(ctx, t.rdb,
		[]string{redisx.EventSeqKey(t.consumer, env.AggregateID)},
		env.Sequence, redisx.TTLEventSeq.Milliseconds(),
	).Int64()
	if err != nil {
		// let the redelivery be judged afresh
		_ = t.rdb.Del(ctx, redisx.DedupKey(t.consumer, env.EventID)).Err()
		return InOrder, fmt.Errorf("redis advance sequence: %w", err)
	}

	switch {
	case last == 0 || env.Sequence == last+1:
		return InOrder, nil
	case env.Sequence > last+1:
		t.log.Warn("event sequence gap",
			zap.String("aggregate_id", env.AggregateID),
			zap.Int64("last_seen", last),
			zap.Int64("received", env.Sequence),
			zap.String("event_id", env.EventID))
		return Gap, nil
	default:
		t.log.Warn("event out of order",
			zap.String("aggregate_id", env.AggregateID),
			zap.Int64("last_seen", last),
			zap.Int64("received", env.Sequence),
			zap.String("event_id", env.EventID))
		return Stale, nil
	}
}

// Handle is a consumer handler that audits the order event stream. Messages
// that do not decode are logged and skipped so they cannot block their
// partition.
func (t *Tracker) Handle(ctx context.Context, msg Message) error {
	env, err := Decode(msg.Value)
	if err != nil {
		t.log.Error("skip undecodable event",
			zap.String("key", string(msg.Key)),
			zap.String("event_id", msg.Headers[HeaderEventID]),
			zap.Error(err))
		return nil
	}

	v, err := t.Observe(ctx, env)
	if err != nil {
		return err
	}
	t.log.Debug("event observed",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("aggregate_id", env.AggregateID),
		zap.Int64("sequence", env.Sequence),
		zap.Stringer("verdict", v))
	return nil
}
