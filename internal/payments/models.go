package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusAuthorized Status = "AUTHORIZED"
	StatusCaptured   Status = "CAPTURED"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
	StatusVoided     Status = "VOIDED"
)

type TxType string

const (
	TxAuthorize TxType = "AUTHORIZE"
	TxCapture   TxType = "CAPTURE"
	TxRefund    TxType = "REFUND"
	TxVoid      TxType = "VOID"
)

type TxStatus string

const (
	TxSuccess TxStatus = "SUCCESS"
	TxFailed  TxStatus = "FAILED"
)

// Payment is one authorization for one order. Captured never exceeds the
// authorized amount and refunded never exceeds captured.
type Payment struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	UserID         uuid.UUID
	Status         Status
	Amount         decimal.Decimal
	CapturedAmount decimal.Decimal
	RefundedAmount decimal.Decimal
	Currency       currency.Unit
	Provider       string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p Payment) CanCapture(amount decimal.Decimal) bool {
	if p.Status != StatusAuthorized && p.Status != StatusCaptured {
		return false
	}
	return p.CapturedAmount.Add(amount).LessThanOrEqual(p.Amount)
}

func (p Payment) CanRefund(amount decimal.Decimal) bool {
	if p.Status != StatusCaptured {
		return false
	}
	return p.RefundedAmount.Add(amount).LessThanOrEqual(p.CapturedAmount)
}

func (p Payment) CanVoid() bool {
	return p.Status == StatusAuthorized && p.CapturedAmount.IsZero()
}

func (p Payment) IsFullyCaptured() bool { return p.CapturedAmount.Equal(p.Amount) }

func (p Payment) IsFullyRefunded() bool { return p.RefundedAmount.Equal(p.CapturedAmount) }

// Transaction is the immutable audit row for one gateway attempt.
type Transaction struct {
	ID                uuid.UUID
	PaymentID         uuid.UUID
	Type              TxType
	Status            TxStatus
	Amount            decimal.Decimal
	ProviderReference string
	ErrorMessage      string
	IdempotencyKey    string
	CreatedAt         time.Time
}
