package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/eventlog"
	"github.com/ariefcatur/order-fulfillment/internal/inventory"
	"github.com/ariefcatur/order-fulfillment/internal/payments"
	"github.com/google/uuid"
)

type CartLookup interface {
	GetCart(ctx context.Context, cartID uuid.UUID) (CartSnapshot, error)
}

type AddressLookup interface {
	GetAddress(ctx context.Context, addressID uuid.UUID) (AddressSnapshot, error)
}

type PaymentLedger interface {
	Authorize(ctx context.Context, req payments.AuthorizeRequest) (payments.Payment, error)
	Void(ctx context.Context, paymentID uuid.UUID, key string) (payments.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (payments.Payment, error)
}

type InventoryLedger interface {
	Reserve(ctx context.Context, orderID uuid.UUID, lines []inventory.Line) (inventory.Reservation, error)
	Confirm(ctx context.Context, reservationID uuid.UUID) (inventory.Reservation, error)
	Release(ctx context.Context, reservationID uuid.UUID, reason string) (inventory.Reservation, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) (inventory.Reservation, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, aggregateType, aggregateID, eventType string, payload map[string]any) (eventlog.Event, error)
}

// Repository persists orders and the remediation records written when a
// compensation fails.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	// ListByUser returns one page of the user's orders, newest first, and the
	// total number of orders the user has.
	ListByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Order, int, error)
	// UpdateStatus writes to only if the stored status is still from. A miss
	// fails with VERSION_CONFLICT.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) error
	SetPayment(ctx context.Context, id, paymentID uuid.UUID, at time.Time) error

	AddRemediation(ctx context.Context, r Remediation) error
	ListRemediations(ctx context.Context, status RemediationStatus) ([]Remediation, error)
	ResolveRemediation(ctx context.Context, id uuid.UUID, at time.Time) error
}
