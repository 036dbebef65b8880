package inventory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/order-fulfillment/internal/inventory")

// Ledger is the reservation ledger. Every mutation runs in a single store
// transaction with the affected stock rows locked in SKU order.
type Ledger struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(store Store, ttl time.Duration, log *zap.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{store: store, ttl: ttl, now: time.Now, log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve holds stock for every line of an order. Either all lines are held or
// none are.
func (l *Ledger) Reserve(ctx context.Context, orderID uuid.UUID, lines []Line) (_ Reservation, err error) {
	ctx, span := tracer.Start(ctx, "inventory.Reserve", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.Int("lines", len(lines)),
	))
	defer func() { endSpan(span, err) }()

	merged, err := normalizeLines(lines)
	if err != nil {
		return Reservation{}, err
	}

	now := l.now().UTC()
	res := Reservation{
		ID:        uuid.New(),
		OrderID:   orderID,
		Status:    ReservationActive,
		ExpiresAt: now.Add(l.ttl),
		Lines:     merged,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		exists, err := tx.ReservationExistsForOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("tx.ReservationExistsForOrder: %w", err)
		}
		if exists {
			return apperr.DuplicateReservation(orderID.String())
		}

		for _, line := range merged {
			item, err := tx.LockStockItem(ctx, line.SKU)
			if apperr.HasCode(err, apperr.CodeNotFound) {
				return apperr.InvalidSKU(line.SKU)
			}
			if err != nil {
				return fmt.Errorf("tx.LockStockItem: %w", err)
			}
			if item.AvailableQty < line.Quantity {
				return apperr.InsufficientStock(line.SKU, line.Quantity, item.AvailableQty)
			}

			after := item
			after.AvailableQty -= line.Quantity
			after.ReservedQty += line.Quantity
			if _, err := l.applyStockChange(ctx, tx, item, after, MovementReserve, line.Quantity, &res.ID, "order "+orderID.String()); err != nil {
				return err
			}
		}

		if err := tx.InsertReservation(ctx, res); err != nil {
			return fmt.Errorf("tx.InsertReservation: %w", err)
		}
		return nil
	})
	if err != nil {
		l.log.Info("reservation rejected",
			zap.String("order_id", orderID.String()),
			zap.String("code", apperr.CodeOf(err)),
			zap.Error(err))
		return Reservation{}, err
	}

	l.log.Info("stock reserved",
		zap.String("order_id", orderID.String()),
		zap.String("reservation_id", res.ID.String()),
		zap.Time("expires_at", res.ExpiresAt))
	return res, nil
}

// Confirm turns an active, unexpired reservation into committed consumption.
func (l *Ledger) Confirm(ctx context.Context, reservationID uuid.UUID) (_ Reservation, err error) {
	ctx, span := tracer.Start(ctx, "inventory.Confirm", trace.WithAttributes(
		attribute.String("reservation.id", reservationID.String()),
	))
	defer func() { endSpan(span, err) }()

	var out Reservation
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		res, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return fmt.Errorf("tx.LockReservation: %w", err)
		}

		now := l.now().UTC()
		switch {
		case res.Status == ReservationExpired:
			return apperr.ReservationExpired(res.ID.String())
		case res.Status != ReservationActive:
			return apperr.InvalidReservationState(res.ID.String(), string(res.Status), "confirm")
		case res.IsExpiredAt(now):
			return apperr.ReservationExpired(res.ID.String())
		}

		for _, line := range res.Lines {
			item, err := tx.LockStockItem(ctx, line.SKU)
			if err != nil {
				return fmt.Errorf("tx.LockStockItem: %w", err)
			}
			after := item
			after.ReservedQty -= line.Quantity
			if _, err := l.applyStockChange(ctx, tx, item, after, MovementConfirm, line.Quantity, &res.ID, "order "+res.OrderID.String()); err != nil {
				return err
			}
		}

		if err := tx.SetReservationStatus(ctx, res.ID, ReservationConfirmed, now); err != nil {
			return fmt.Errorf("tx.SetReservationStatus: %w", err)
		}
		res.Status = ReservationConfirmed
		res.UpdatedAt = now
		out = res
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}

	l.log.Info("reservation confirmed", zap.String("reservation_id", reservationID.String()))
	return out, nil
}

// Release returns held stock. Confirmed, released and expired reservations
// cannot be released.
func (l *Ledger) Release(ctx context.Context, reservationID uuid.UUID, reason string) (_ Reservation, err error) {
	ctx, span := tracer.Start(ctx, "inventory.Release", trace.WithAttributes(
		attribute.String("reservation.id", reservationID.String()),
	))
	defer func() { endSpan(span, err) }()

	out, err := l.returnStock(ctx, reservationID, ReservationReleased, MovementRelease, reason)
	if err != nil {
		return Reservation{}, err
	}
	l.log.Info("reservation released",
		zap.String("reservation_id", reservationID.String()),
		zap.String("reason", reason))
	return out, nil
}

// Expire returns the stock of an active reservation whose expiry has passed.
func (l *Ledger) Expire(ctx context.Context, reservationID uuid.UUID) (_ Reservation, err error) {
	ctx, span := tracer.Start(ctx, "inventory.Expire", trace.WithAttributes(
		attribute.String("reservation.id", reservationID.String()),
	))
	defer func() { endSpan(span, err) }()

	return l.returnStock(ctx, reservationID, ReservationExpired, MovementExpire, "reservation expired")
}

func (l *Ledger) returnStock(ctx context.Context, reservationID uuid.UUID, target ReservationStatus, mt MovementType, reason string) (Reservation, error) {
	var out Reservation
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		res, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return fmt.Errorf("tx.LockReservation: %w", err)
		}

		op := strings.ToLower(string(mt))
		if res.Status != ReservationActive {
			return apperr.InvalidReservationState(res.ID.String(), string(res.Status), op)
		}
		now := l.now().UTC()
		if target == ReservationExpired && !res.IsExpiredAt(now) {
			return apperr.InvalidReservationState(res.ID.String(), string(res.Status), op).
				WithDetail("expires_at", res.ExpiresAt)
		}

		for _, line := range res.Lines {
			item, err := tx.LockStockItem(ctx, line.SKU)
			if err != nil {
				return fmt.Errorf("tx.LockStockItem: %w", err)
			}
			after := item
			after.ReservedQty -= line.Quantity
			after.AvailableQty += line.Quantity
			if _, err := l.applyStockChange(ctx, tx, item, after, mt, line.Quantity, &res.ID, reason); err != nil {
				return err
			}
		}

		if err := tx.SetReservationStatus(ctx, res.ID, target, now); err != nil {
			return fmt.Errorf("tx.SetReservationStatus: %w", err)
		}
		res.Status = target
		res.UpdatedAt = now
		out = res
		return nil
	})
	return out, err
}

// CreateStockItem registers a SKU with its initial available quantity.
func (l *Ledger) CreateStockItem(ctx context.Context, item StockItem) (StockItem, error) {
	if strings.TrimSpace(item.SKU) == "" {
		return StockItem{}, apperr.Validation("sku is required")
	}
	if item.AvailableQty < 0 || item.ReservedQty != 0 || item.LowStockThreshold < 0 {
		return StockItem{}, apperr.Validation("invalid initial quantities for sku %s", item.SKU)
	}
	item.Version = 0
	item.UpdatedAt = l.now().UTC()

	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertStockItem(ctx, item); err != nil {
			return fmt.Errorf("tx.InsertStockItem: %w", err)
		}
		if item.AvailableQty == 0 {
			return nil
		}
		return tx.AddMovement(ctx, Movement{
			ID:             uuid.New(),
			SKU:            item.SKU,
			Type:           MovementRestock,
			Quantity:       item.AvailableQty,
			AvailableAfter: item.AvailableQty,
			Reason:         "initial stock",
			CreatedAt:      item.UpdatedAt,
		})
	})
	if err != nil {
		return StockItem{}, err
	}
	return item, nil
}

// Restock adds quantity to the available counter.
func (l *Ledger) Restock(ctx context.Context, sku string, qty int, reason string) (StockItem, error) {
	if qty <= 0 {
		return StockItem{}, apperr.Validation("restock quantity must be positive")
	}
	return l.changeAvailable(ctx, sku, MovementRestock, reason, func(item StockItem) (StockItem, int) {
		item.AvailableQty += qty
		return item, qty
	})
}

// Adjust overwrites the available counter after a physical count.
func (l *Ledger) Adjust(ctx context.Context, sku string, available int, reason string) (StockItem, error) {
	if available < 0 {
		return StockItem{}, apperr.Validation("available quantity must not be negative")
	}
	return l.changeAvailable(ctx, sku, MovementAdjustment, reason, func(item StockItem) (StockItem, int) {
		delta := available - item.AvailableQty
		item.AvailableQty = available
		return item, delta
	})
}

func (l *Ledger) changeAvailable(ctx context.Context, sku string, mt MovementType, reason string, apply func(StockItem) (StockItem, int)) (StockItem, error) {
	var out StockItem
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		item, err := tx.LockStockItem(ctx, sku)
		if err != nil {
			return fmt.Errorf("tx.LockStockItem: %w", err)
		}
		after, qty := apply(item)
		out, err = l.applyStockChange(ctx, tx, item, after, mt, qty, nil, reason)
		return err
	})
	if err != nil {
		return StockItem{}, err
	}
	if out.IsLowStock() {
		l.log.Warn("stock item below threshold",
			zap.String("sku", out.SKU),
			zap.Int("available", out.AvailableQty),
			zap.Int("threshold", out.LowStockThreshold))
	}
	return out, nil
}

func (l *Ledger) applyStockChange(ctx context.Context, tx Tx, before, after StockItem, mt MovementType, qty int, reservationID *uuid.UUID, reason string) (StockItem, error) {
	if after.AvailableQty < 0 || after.ReservedQty < 0 {
		return StockItem{}, apperr.Internal(nil, fmt.Sprintf("stock counters for %s would go negative", before.SKU))
	}
	now := l.now().UTC()
	after.Version = before.Version + 1
	after.UpdatedAt = now

	if err := tx.UpdateStockItem(ctx, after); err != nil {
		return StockItem{}, fmt.Errorf("tx.UpdateStockItem: %w", err)
	}
	err := tx.AddMovement(ctx, Movement{
		ID:              uuid.New(),
		SKU:             before.SKU,
		Type:            mt,
		Quantity:        qty,
		AvailableBefore: before.AvailableQty,
		AvailableAfter:  after.AvailableQty,
		ReservedBefore:  before.ReservedQty,
		ReservedAfter:   after.ReservedQty,
		ReservationID:   reservationID,
		Reason:          reason,
		CreatedAt:       now,
	})
	if err != nil {
		return StockItem{}, fmt.Errorf("tx.AddMovement: %w", err)
	}
	return after, nil
}

func (l *Ledger) GetReservation(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return l.store.GetReservation(ctx, id)
}

func (l *Ledger) FindByOrder(ctx context.Context, orderID uuid.UUID) (Reservation, error) {
	return l.store.FindReservationByOrder(ctx, orderID)
}

func (l *Ledger) GetStockItem(ctx context.Context, sku string) (StockItem, error) {
	return l.store.GetStockItem(ctx, sku)
}

func (l *Ledger) Movements(ctx context.Context, sku string) ([]Movement, error) {
	return l.store.Movements(ctx, sku)
}

func (l *Ledger) LowStock(ctx context.Context) ([]StockItem, error) {
	return l.store.ListLowStock(ctx)
}

// normalizeLines validates lines, merges repeated SKUs and sorts by SKU so
// concurrent reservations lock rows in the same order.
func normalizeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation("reservation needs at least one line")
	}
	for _, line := range lines {
		if strings.TrimSpace(line.SKU) == "" {
			return nil, apperr.Validation("line sku is required")
		}
		if line.Quantity <= 0 {
			return nil, apperr.Validation("quantity for sku %s must be positive", line.SKU)
		}
	}

	totals := lo.Reduce(lines, func(acc map[string]int, line Line, _ int) map[string]int {
		acc[line.SKU] += line.Quantity
		return acc
	}, map[string]int{})

	merged := lo.MapToSlice(totals, func(sku string, qty int) Line {
		return Line{SKU: sku, Quantity: qty}
	})
	slices.SortFunc(merged, func(a, b Line) int { return strings.Compare(a.SKU, b.SKU) })
	return merged, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(err))
	}
	span.End()
}
