package inventory

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

type MovementType string

const (
	MovementReserve    MovementType = "RESERVE"
	MovementConfirm    MovementType = "CONFIRM"
	MovementRelease    MovementType = "RELEASE"
	MovementExpire     MovementType = "EXPIRE"
	MovementRestock    MovementType = "RESTOCK"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// StockItem holds the counters for one SKU. Available and reserved never go
// negative; reserve and release move quantity between them without changing
// the sum.
type StockItem struct {
	SKU               string
	ProductID         uuid.UUID
	AvailableQty      int
	ReservedQty       int
	LowStockThreshold int
	Version           int64
	UpdatedAt         time.Time
}

func (s StockItem) IsLowStock() bool {
	return s.AvailableQty <= s.LowStockThreshold
}

type Line struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type Reservation struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Status    ReservationStatus
	ExpiresAt time.Time
	Lines     []Line
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Reservation) IsExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r Reservation) IsTerminal() bool {
	return r.Status != ReservationActive
}

// Movement is the audit row written for every stock change.
type Movement struct {
	ID              uuid.UUID
	SKU             string
	Type            MovementType
	Quantity        int
	AvailableBefore int
	AvailableAfter  int
	ReservedBefore  int
	ReservedAfter   int
	ReservationID   *uuid.UUID
	Reason          string
	CreatedAt       time.Time
}
