package eventlog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Relay republishes events the broker never acknowledged. Events younger
// than grace are left alone so an in-flight Publish is not raced.
type Relay struct {
	pub      *Publisher
	interval time.Duration
	grace    time.Duration
	batch    int
	log      *zap.Logger
}

func NewRelay(pub *Publisher, interval, grace time.Duration, batch int, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{pub: pub, interval: interval, grace: grace, batch: batch, log: log}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _, _ = r.RunOnce(ctx)
		}
	}
}

// RunOnce sends one batch. Once an event of an aggregate fails, later events
// of that aggregate wait for the next run.
func (r *Relay) RunOnce(ctx context.Context) (sent, skipped int, err error) {
	cutoff := r.pub.now().UTC().Add(-r.grace)
	events, err := r.pub.store.ListUnpublished(ctx, cutoff, r.batch)
	if err != nil {
		r.log.Error("list unpublished events", zap.Error(err))
		return 0, 0, err
	}
	if len(events) == 0 {
		return 0, 0, nil
	}

	blocked := map[string]bool{}
	for _, e := range events {
		if blocked[e.AggregateID] {
			skipped++
			continue
		}
		if err := r.pub.send(ctx, e); err != nil {
			blocked[e.AggregateID] = true
			skipped++
			r.log.Warn("relay publish failed",
				zap.String("event_id", e.ID.String()),
				zap.String("aggregate_id", e.AggregateID),
				zap.Int64("sequence", e.Sequence),
				zap.Error(err))
			continue
		}
		sent++
	}

	r.log.Info("event relay finished", zap.Int("sent", sent), zap.Int("skipped", skipped))
	return sent, skipped, nil
}
