package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists stock and reservations. Writes happen only through WithinTx.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetStockItem(ctx context.Context, sku string) (StockItem, error)
	ListLowStock(ctx context.Context) ([]StockItem, error)
	Movements(ctx context.Context, sku string) ([]Movement, error)

	GetReservation(ctx context.Context, id uuid.UUID) (Reservation, error)
	FindReservationByOrder(ctx context.Context, orderID uuid.UUID) (Reservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Tx is one transaction scope. Rows returned by the Lock methods stay locked
// until the scope ends, however it ends.
type Tx interface {
	LockStockItem(ctx context.Context, sku string) (StockItem, error)
	InsertStockItem(ctx context.Context, item StockItem) error
	UpdateStockItem(ctx context.Context, item StockItem) error
	AddMovement(ctx context.Context, m Movement) error

	ReservationExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	LockReservation(ctx context.Context, id uuid.UUID) (Reservation, error)
	InsertReservation(ctx context.Context, r Reservation) error
	SetReservationStatus(ctx context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error
}
