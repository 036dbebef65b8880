package orders

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type MemoryRepo struct {
	mu           sync.Mutex
	orders       map[uuid.UUID]Order
	remediations map[uuid.UUID]Remediation
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:       map[uuid.UUID]Order{},
		remediations: map[uuid.UUID]Remediation{},
	}
}

func (r *MemoryRepo) Create(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	o.Items = slices.Clone(o.Items)
	r.orders[o.ID] = o
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id uuid.UUID) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return Order{}, apperr.NotFound("order", id.String())
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID uuid.UUID, offset, limit int) ([]Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mine := lo.Filter(lo.Values(r.orders), func(o Order, _ int) bool { return o.UserID == userID })
	slices.SortFunc(mine, func(a, b Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	total := len(mine)
	if offset >= total {
		return []Order{}, total, nil
	}
	return mine[offset:min(offset+limit, total)], total, nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return apperr.NotFound("order", id.String())
	}
	if o.Status != from {
		return apperr.VersionConflict("order", id.String()).
			WithDetail("expected_status", string(from)).
			WithDetail("current_status", string(o.Status))
	}
	o.Status = to
	o.UpdatedAt = at
	r.orders[id] = o
	return nil
}

func (r *MemoryRepo) SetPayment(_ context.Context, id, paymentID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return apperr.NotFound("order", id.String())
	}
	o.PaymentID = &paymentID
	o.UpdatedAt = at
	r.orders[id] = o
	return nil
}

func (r *MemoryRepo) AddRemediation(_ context.Context, rem Remediation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remediations[rem.ID] = rem
	return nil
}

func (r *MemoryRepo) ListRemediations(_ context.Context, status RemediationStatus) ([]Remediation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := lo.Filter(lo.Values(r.remediations), func(rem Remediation, _ int) bool {
		return status == "" || rem.Status == status
	})
	slices.SortFunc(out, func(a, b Remediation) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) ResolveRemediation(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem, ok := r.remediations[id]
	if !ok {
		return apperr.NotFound("remediation", id.String())
	}
	if rem.Status == RemediationOpen {
		rem.Status = RemediationResolved
		rem.ResolvedAt = &at
		r.remediations[id] = rem
	}
	return nil
}
