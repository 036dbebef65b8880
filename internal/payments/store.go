package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// errKeyTaken is returned by Store.Record when the transaction's idempotency
// key is already stored.
var errKeyTaken = errors.New("idempotency key already used")

type Store interface {
	// Create inserts a new payment. A second payment for the same order fails
	// with DUPLICATE_PAYMENT.
	Create(ctx context.Context, p Payment) error
	Get(ctx context.Context, id uuid.UUID) (Payment, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (Payment, error)

	// Record stores p and appends t atomically, provided the stored version
	// still equals expectedVersion. A stale version fails with VERSION_CONFLICT.
	Record(ctx context.Context, p Payment, expectedVersion int64, t Transaction) error

	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error)
	Transactions(ctx context.Context, paymentID uuid.UUID) ([]Transaction, error)
}
