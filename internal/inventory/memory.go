package inventory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. Transactions are serialized by one
// mutex and work on a copy of the state that replaces the original on success.
type MemoryStore struct {
	mu sync.Mutex

	items        map[string]StockItem
	reservations map[uuid.UUID]Reservation
	byOrder      map[uuid.UUID]uuid.UUID
	movements    []Movement
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:        map[string]StockItem{},
		reservations: map[uuid.UUID]Reservation{},
		byOrder:      map[uuid.UUID]uuid.UUID{},
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		items:        maps.Clone(s.items),
		reservations: maps.Clone(s.reservations),
		byOrder:      maps.Clone(s.byOrder),
		movements:    slices.Clone(s.movements),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.items = tx.items
	s.reservations = tx.reservations
	s.byOrder = tx.byOrder
	s.movements = tx.movements
	return nil
}

func (s *MemoryStore) GetStockItem(_ context.Context, sku string) (StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[sku]
	if !ok {
		return StockItem{}, apperr.NotFound("stock item", sku)
	}
	return item, nil
}

func (s *MemoryStore) ListLowStock(context.Context) ([]StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []StockItem
	for _, item := range s.items {
		if item.IsLowStock() {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b StockItem) int { return strings.Compare(a.SKU, b.SKU) })
	return out, nil
}

func (s *MemoryStore) Movements(_ context.Context, sku string) ([]Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Movement
	for _, m := range s.movements {
		if m.SKU == sku {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetReservation(_ context.Context, id uuid.UUID) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return Reservation{}, apperr.NotFound("reservation", id.String())
	}
	return r, nil
}

func (s *MemoryStore) FindReservationByOrder(_ context.Context, orderID uuid.UUID) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOrder[orderID]
	if !ok {
		return Reservation{}, apperr.NotFound("reservation for order", orderID.String())
	}
	return s.reservations[id], nil
}

func (s *MemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Reservation
	for _, r := range s.reservations {
		if r.Status == ReservationActive && r.ExpiresAt.Before(now) {
			expired = append(expired, r)
		}
	}
	slices.SortFunc(expired, func(a, b Reservation) int { return a.ExpiresAt.Compare(b.ExpiresAt) })
	if len(expired) > limit {
		expired = expired[:limit]
	}

	out := make([]uuid.UUID, 0, len(expired))
	for _, r := range expired {
		out = append(out, r.ID)
	}
	return out, nil
}

type memoryTx struct {
	items        map[string]StockItem
	reservations map[uuid.UUID]Reservation
	byOrder      map[uuid.UUID]uuid.UUID
	movements    []Movement
}

func (t *memoryTx) LockStockItem(_ context.Context, sku string) (StockItem, error) {
	item, ok := t.items[sku]
	if !ok {
		return StockItem{}, apperr.NotFound("stock item", sku)
	}
	return item, nil
}

func (t *memoryTx) InsertStockItem(_ context.Context, item StockItem) error {
	if _, ok := t.items[item.SKU]; ok {
		return apperr.DuplicateSKU(item.SKU)
	}
	t.items[item.SKU] = item
	return nil
}

func (t *memoryTx) UpdateStockItem(_ context.Context, item StockItem) error {
	if _, ok := t.items[item.SKU]; !ok {
		return apperr.NotFound("stock item", item.SKU)
	}
	t.items[item.SKU] = item
	return nil
}

func (t *memoryTx) AddMovement(_ context.Context, m Movement) error {
	t.movements = append(t.movements, m)
	return nil
}

func (t *memoryTx) ReservationExistsForOrder(_ context.Context, orderID uuid.UUID) (bool, error) {
	_, ok := t.byOrder[orderID]
	return ok, nil
}

func (t *memoryTx) LockReservation(_ context.Context, id uuid.UUID) (Reservation, error) {
	r, ok := t.reservations[id]
	if !ok {
		return Reservation{}, apperr.NotFound("reservation", id.String())
	}
	return r, nil
}

func (t *memoryTx) InsertReservation(_ context.Context, r Reservation) error {
	if _, ok := t.byOrder[r.OrderID]; ok {
		return apperr.DuplicateReservation(r.OrderID.String())
	}
	r.Lines = slices.Clone(r.Lines)
	t.reservations[r.ID] = r
	t.byOrder[r.OrderID] = r.ID
	return nil
}

func (t *memoryTx) SetReservationStatus(_ context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error {
	r, ok := t.reservations[id]
	if !ok {
		return apperr.NotFound("reservation", id.String())
	}
	r.Status = status
	r.UpdatedAt = at
	t.reservations[id] = r
	return nil
}
