package orders

import (
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// AddressSnapshot is frozen into the order at creation and never re-read.
type AddressSnapshot struct {
	AddressID  uuid.UUID `json:"address_id"`
	Label      string    `json:"label"`
	Country    string    `json:"country"`
	State      string    `json:"state"`
	City       string    `json:"city"`
	Zip        string    `json:"zip"`
	Street     string    `json:"street"`
	Number     string    `json:"number"`
	Complement string    `json:"complement,omitempty"`
}

type CartItem struct {
	CartItemID uuid.UUID
	ProductID  uuid.UUID
	SKU        string
	Title      string
	UnitPrice  decimal.Decimal
	Quantity   int
	LineTotal  decimal.Decimal
}

type CartSnapshot struct {
	CartID   uuid.UUID
	UserID   uuid.UUID
	Status   string
	Subtotal decimal.Decimal
	Items    []CartItem
}

type OrderItem struct {
	ProductID     uuid.UUID
	SKU           string
	TitleSnapshot string
	UnitPrice     decimal.Decimal
	Quantity      int
	LineTotal     decimal.Decimal
}

type Order struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	CartID          uuid.UUID
	Status          Status
	Currency        currency.Unit
	Subtotal        decimal.Decimal
	Shipping        decimal.Decimal
	Tax             decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	PaymentID       *uuid.UUID
	ShippingAddress AddressSnapshot
	BillingAddress  AddressSnapshot
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ComputeTotal sets Total from the other amounts.
func (o *Order) ComputeTotal() {
	o.Total = o.Subtotal.Add(o.Shipping).Add(o.Tax).Sub(o.Discount)
}

func (o Order) Validate() error {
	if len(o.Items) == 0 {
		return apperr.Validation("order %s has no items", o.ID)
	}
	subtotal := decimal.Zero
	for i, it := range o.Items {
		if it.Quantity <= 0 {
			return apperr.Validation("item %d (%s): quantity must be positive", i, it.SKU)
		}
		if it.UnitPrice.IsNegative() {
			return apperr.Validation("item %d (%s): unit price must not be negative", i, it.SKU)
		}
		if !it.LineTotal.Equal(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))) {
			return apperr.Validation("item %d (%s): line total %s does not match %s x %d",
				i, it.SKU, it.LineTotal, it.UnitPrice, it.Quantity)
		}
		subtotal = subtotal.Add(it.LineTotal)
	}
	if !subtotal.Equal(o.Subtotal) {
		return apperr.Validation("subtotal %s does not match items %s", o.Subtotal, subtotal)
	}
	want := o.Subtotal.Add(o.Shipping).Add(o.Tax).Sub(o.Discount)
	if !o.Total.Equal(want) {
		return apperr.Validation("total %s does not match %s", o.Total, want)
	}
	return nil
}

func (o Order) CanBeCancelled() bool {
	switch o.Status {
	case StatusPendingPayment, StatusPaymentAuthorized, StatusInventoryReserved, StatusConfirmed:
		return true
	default:
		return false
	}
}

type RemediationKind string

const (
	RemediationVoidPayment        RemediationKind = "VOID_PAYMENT"
	RemediationReleaseReservation RemediationKind = "RELEASE_RESERVATION"
	RemediationConfirmReservation RemediationKind = "CONFIRM_RESERVATION"
)

type RemediationStatus string

const (
	RemediationOpen     RemediationStatus = "OPEN"
	RemediationResolved RemediationStatus = "RESOLVED"
)

// Remediation records a compensation that failed and still needs doing.
type Remediation struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	Kind       RemediationKind
	TargetID   string
	Reason     string
	Status     RemediationStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
