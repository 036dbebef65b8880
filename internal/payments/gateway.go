package payments

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type Operation struct {
	Type      TxType
	PaymentID uuid.UUID
	Amount    decimal.Decimal
	Currency  currency.Unit
}

type Outcome struct {
	Success           bool
	ProviderReference string
	ErrorMessage      string
}

// Gateway talks to the payment provider. A returned error means the provider
// could not be reached; a declined operation is an Outcome with Success false.
type Gateway interface {
	Simulate(ctx context.Context, op Operation) (Outcome, error)
}

type Rates struct {
	Authorize float64
	Capture   float64
	Refund    float64
	Void      float64
}

var declineReasons = map[TxType][]string{
	TxAuthorize: {"Insufficient funds", "Card declined", "Invalid card number", "Card expired", "Security check failed"},
	TxCapture:   {"Authorization expired", "Capture amount exceeds authorized amount", "Provider timeout", "Duplicate capture attempt"},
	TxRefund:    {"Refund window expired", "Insufficient balance for refund", "Original transaction not found", "Provider error"},
	TxVoid:      {"Authorization already captured", "Void window expired", "Provider timeout"},
}

// Simulator is a stand-in provider that succeeds with a configured
// probability per operation.
type Simulator struct {
	rates Rates
	delay time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulator(rates Rates, delay time.Duration) *Simulator {
	return &Simulator{
		rates: rates,
		delay: delay,
		rnd:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (s *Simulator) Simulate(ctx context.Context, op Operation) (Outcome, error) {
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	roll := s.rnd.Float64()
	reasons := declineReasons[op.Type]
	reason := reasons[s.rnd.IntN(len(reasons))]
	s.mu.Unlock()

	out := Outcome{
		Success:           roll < s.rate(op.Type),
		ProviderReference: "mock-txn-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}
	if !out.Success {
		out.ErrorMessage = reason
	}
	return out, nil
}

func (s *Simulator) rate(t TxType) float64 {
	switch t {
	case TxAuthorize:
		return s.rates.Authorize
	case TxCapture:
		return s.rates.Capture
	case TxRefund:
		return s.rates.Refund
	case TxVoid:
		return s.rates.Void
	default:
		return 0
	}
}
