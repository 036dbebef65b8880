package payments

import (
	"context"
	"slices"
	"sync"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/google/uuid"
)

type MemoryStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]Payment
	byOrder  map[uuid.UUID]uuid.UUID
	txs      map[uuid.UUID][]Transaction
	keys     map[string]Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: map[uuid.UUID]Payment{},
		byOrder:  map[uuid.UUID]uuid.UUID{},
		txs:      map[uuid.UUID][]Transaction{},
		keys:     map[string]Transaction{},
	}
}

func (s *MemoryStore) Create(_ context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byOrder[p.OrderID]; ok {
		return apperr.DuplicatePayment(p.OrderID.String())
	}
	s.payments[p.ID] = p
	s.byOrder[p.OrderID] = p.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return Payment{}, apperr.NotFound("payment", id.String())
	}
	return p, nil
}

func (s *MemoryStore) GetByOrder(_ context.Context, orderID uuid.UUID) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byOrder[orderID]
	if !ok {
		return Payment{}, apperr.NotFound("payment for order", orderID.String())
	}
	return s.payments[id], nil
}

func (s *MemoryStore) Record(_ context.Context, p Payment, expectedVersion int64, t Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.payments[p.ID]
	if !ok {
		return apperr.NotFound("payment", p.ID.String())
	}
	if t.IdempotencyKey != "" {
		if _, taken := s.keys[t.IdempotencyKey]; taken {
			return errKeyTaken
		}
	}
	if cur.Version != expectedVersion {
		return apperr.VersionConflict("payment", p.ID.String())
	}

	s.payments[p.ID] = p
	s.txs[p.ID] = append(s.txs[p.ID], t)
	if t.IdempotencyKey != "" {
		s.keys[t.IdempotencyKey] = t
	}
	return nil
}

func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, key string) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.keys[key]
	return t, ok, nil
}

func (s *MemoryStore) Transactions(_ context.Context, paymentID uuid.UUID) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.txs[paymentID]), nil
}
