package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper expires active reservations whose TTL has passed. Confirm and
// release re-check expiry themselves, so a late sweep only delays the stock
// returning to available.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	batch    int
	log      *zap.Logger
}

func NewSweeper(ledger *Ledger, interval time.Duration, batch int, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{ledger: ledger, interval: interval, batch: batch, log: log}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce expires one batch. Each reservation is expired in its own
// transaction so one failure does not block the rest.
func (s *Sweeper) SweepOnce(ctx context.Context) (expired, failed int) {
	ids, err := s.ledger.store.ListExpired(ctx, s.ledger.now().UTC(), s.batch)
	if err != nil {
		s.log.Error("list expired reservations", zap.Error(err))
		return 0, 0
	}
	if len(ids) == 0 {
		return 0, 0
	}

	for _, id := range ids {
		if _, err := s.ledger.Expire(ctx, id); err != nil {
			failed++
			s.log.Warn("expire reservation",
				zap.String("reservation_id", id.String()),
				zap.Error(err))
			continue
		}
		expired++
	}

	s.log.Info("reservation sweep finished",
		zap.Int("expired", expired),
		zap.Int("failed", failed))
	return expired, failed
}

// LowStockMonitor periodically logs stock items at or below their threshold.
type LowStockMonitor struct {
	ledger   *Ledger
	interval time.Duration
	log      *zap.Logger
}

func NewLowStockMonitor(ledger *Ledger, interval time.Duration, log *zap.Logger) *LowStockMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &LowStockMonitor{ledger: ledger, interval: interval, log: log}
}

func (m *LowStockMonitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = m.CheckOnce(ctx)
		}
	}
}

func (m *LowStockMonitor) CheckOnce(ctx context.Context) ([]StockItem, error) {
	items, err := m.ledger.LowStock(ctx)
	if err != nil {
		m.log.Error("list low stock", zap.Error(err))
		return nil, err
	}
	for _, it := range items {
		m.log.Warn("low stock",
			zap.String("sku", it.SKU),
			zap.Int("available", it.AvailableQty),
			zap.Int("reserved", it.ReservedQty),
			zap.Int("threshold", it.LowStockThreshold))
	}
	return items, nil
}
