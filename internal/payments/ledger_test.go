package payments_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/payments"
	"github.com/ariefcatur/order-fulfillment/internal/postgres/postgrestest"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/text/currency"
)

// scriptedGateway approves everything unless told otherwise for an operation.
type scriptedGateway struct {
	mu      sync.Mutex
	decline map[payments.TxType]string
	fail    map[payments.TxType]error
	calls   []payments.Operation
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{decline: map[payments.TxType]string{}, fail: map[payments.TxType]error{}}
}

func (g *scriptedGateway) Simulate(ctx context.Context, op payments.Operation) (payments.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, op)
	if err := g.fail[op.Type]; err != nil {
		return payments.Outcome{}, err
	}
	if reason, ok := g.decline[op.Type]; ok {
		return payments.Outcome{ProviderReference: "ref-declined", ErrorMessage: reason}, nil
	}
	return payments.Outcome{Success: true, ProviderReference: "ref-" + string(op.Type)}, nil
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type blockingGateway struct{}

func (blockingGateway) Simulate(ctx context.Context, _ payments.Operation) (payments.Outcome, error) {
	<-ctx.Done()
	return payments.Outcome{}, ctx.Err()
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type ledgerSuite struct {
	suite.Suite

	postgres bool
	newStore func() payments.Store
	pool     *pgxpool.Pool

	store   payments.Store
	gateway *scriptedGateway
	ledger  *payments.Ledger
}

func TestLedgerMemory(t *testing.T) {
	suite.Run(t, &ledgerSuite{newStore: func() payments.Store { return payments.NewMemoryStore() }})
}

func TestLedgerPostgres(t *testing.T) {
	s := &ledgerSuite{postgres: true}
	s.newStore = func() payments.Store { return payments.NewPGStore(s.pool) }
	suite.Run(t, s)
}

func (s *ledgerSuite) SetupSuite() {
	if s.postgres {
		s.pool = postgrestest.Start(s.T())
	}
}

func (s *ledgerSuite) SetupTest() {
	if s.pool != nil {
		postgrestest.Truncate(s.T(), s.pool)
	}
	s.store = s.newStore()
	s.gateway = newScriptedGateway()
	s.ledger = payments.NewLedger(s.store, s.gateway, time.Second, nil)
}

func (s *ledgerSuite) authorize(amount string, key string) payments.Payment {
	p, err := s.ledger.Authorize(context.Background(), payments.AuthorizeRequest{
		OrderID:        uuid.New(),
		UserID:         uuid.New(),
		Amount:         dec(amount),
		Currency:       currency.USD,
		IdempotencyKey: key,
	})
	s.Require().NoError(err)
	return p
}

func (s *ledgerSuite) assertAmounts(p payments.Payment, captured, refunded string) {
	s.True(p.CapturedAmount.Equal(dec(captured)), "captured %s, want %s", p.CapturedAmount, captured)
	s.True(p.RefundedAmount.Equal(dec(refunded)), "refunded %s, want %s", p.RefundedAmount, refunded)
}

func (s *ledgerSuite) TestAuthorize() {
	ctx := context.Background()
	p := s.authorize("100.00", "auth-1")

	s.Equal(payments.StatusAuthorized, p.Status)
	s.Equal(int64(1), p.Version)
	s.Equal(currency.USD, p.Currency)
	s.Equal("simulator", p.Provider)

	stored, err := s.ledger.GetByOrder(ctx, p.OrderID)
	s.Require().NoError(err)
	s.Equal(p.ID, stored.ID)
	s.Equal(payments.StatusAuthorized, stored.Status)
	s.True(stored.Amount.Equal(dec("100")))

	txs, err := s.ledger.Transactions(ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(txs, 1)
	s.Equal(payments.TxAuthorize, txs[0].Type)
	s.Equal(payments.TxSuccess, txs[0].Status)
	s.Equal("auth-1", txs[0].IdempotencyKey)
	s.Equal("ref-AUTHORIZE", txs[0].ProviderReference)
}

func (s *ledgerSuite) TestAuthorizeValidation() {
	_, err := s.ledger.Authorize(context.Background(), payments.AuthorizeRequest{
		OrderID: uuid.New(), UserID: uuid.New(), Amount: decimal.Zero, Currency: currency.USD,
	})
	s.True(apperr.HasCode(err, apperr.CodeValidation), "got %v", err)
	s.Zero(s.gateway.callCount())
}

func (s *ledgerSuite) TestAuthorizeDeclined() {
	ctx := context.Background()
	s.gateway.decline[payments.TxAuthorize] = "Card declined"
	orderID := uuid.New()

	req := payments.AuthorizeRequest{
		OrderID: orderID, UserID: uuid.New(), Amount: dec("42.50"), Currency: currency.USD,
		IdempotencyKey: "auth-declined",
	}
	_, err := s.ledger.Authorize(ctx, req)
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodePaymentFailed))
	s.Equal(apperr.KindPayment, apperr.KindOf(err))

	p, err := s.ledger.GetByOrder(ctx, orderID)
	s.Require().NoError(err)
	s.Equal(payments.StatusFailed, p.Status)

	txs, err := s.ledger.Transactions(ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(txs, 1)
	s.Equal(payments.TxFailed, txs[0].Status)
	s.Equal("Card declined", txs[0].ErrorMessage)

	// Replaying the key reports the same decline without calling the gateway.
	calls := s.gateway.callCount()
	_, err = s.ledger.Authorize(ctx, req)
	s.True(apperr.HasCode(err, apperr.CodePaymentFailed))
	s.Equal(calls, s.gateway.callCount())
}

func (s *ledgerSuite) TestAuthorizeGatewayTimeout() {
	ctx := context.Background()
	l := payments.NewLedger(s.store, blockingGateway{}, 20*time.Millisecond, nil)
	orderID := uuid.New()

	_, err := l.Authorize(ctx, payments.AuthorizeRequest{
		OrderID: orderID, UserID: uuid.New(), Amount: dec("10"), Currency: currency.USD,
	})
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeGatewayUnavailable))
	s.True(apperr.IsRetryable(err))
	s.True(errors.Is(err, context.DeadlineExceeded))

	p, err := l.GetByOrder(ctx, orderID)
	s.Require().NoError(err)
	s.Equal(payments.StatusFailed, p.Status)
}

func (s *ledgerSuite) TestDuplicatePaymentForOrder() {
	ctx := context.Background()
	p := s.authorize("20", "")

	_, err := s.ledger.Authorize(ctx, payments.AuthorizeRequest{
		OrderID: p.OrderID, UserID: p.UserID, Amount: dec("20"), Currency: currency.USD,
	})
	s.True(apperr.HasCode(err, apperr.CodeDuplicatePayment), "got %v", err)
}

func (s *ledgerSuite) TestPartialAndFullCapture() {
	ctx := context.Background()
	p := s.authorize("100", "")

	p, err := s.ledger.Capture(ctx, p.ID, dec("60"), "cap-1")
	s.Require().NoError(err)
	s.Equal(payments.StatusAuthorized, p.Status)
	s.assertAmounts(p, "60", "0")

	_, err = s.ledger.Capture(ctx, p.ID, dec("50"), "cap-2")
	s.Require().Error(err)
	s.True(apperr.HasCode(err, apperr.CodeInvalidPaymentState))

	got, err := s.ledger.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.assertAmounts(got, "60", "0")

	p, err = s.ledger.Capture(ctx, p.ID, dec("40"), "cap-3")
	s.Require().NoError(err)
	s.Equal(payments.StatusCaptured, p.Status)
	s.assertAmounts(p, "100", "0")
}

func (s *ledgerSuite) TestIdempotentCapture() {
	ctx := context.Background()
	p := s.authorize("100", "")

	first, err := s.ledger.Capture(ctx, p.ID, dec("30"), "cap-same")
	s.Require().NoError(err)
	second, err := s.ledger.Capture(ctx, p.ID, dec("30"), "cap-same")
	s.Require().NoError(err)

	s.Equal(first.Version, second.Version)
	s.assertAmounts(second, "30", "0")

	txs, err := s.ledger.Transactions(ctx, p.ID)
	s.Require().NoError(err)
	captures := 0
	for _, t := range txs {
		if t.Type == payments.TxCapture {
			captures++
		}
	}
	s.Equal(1, captures)
}

func (s *ledgerSuite) TestConcurrentSameKey() {
	ctx := context.Background()
	p := s.authorize("100", "")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.ledger.Capture(ctx, p.ID, dec("10"), "cap-race")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			s.True(apperr.HasCode(err, apperr.CodeVersionConflict), "unexpected %v", err)
		}
	}
	got, err := s.ledger.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.assertAmounts(got, "10", "0")
}

func (s *ledgerSuite) TestRefund() {
	ctx := context.Background()
	p := s.authorize("80", "")

	_, err := s.ledger.Refund(ctx, p.ID, dec("10"), "")
	s.True(apperr.HasCode(err, apperr.CodeInvalidPaymentState), "refund before capture: %v", err)

	p, err = s.ledger.Capture(ctx, p.ID, dec("80"), "")
	s.Require().NoError(err)

	p, err = s.ledger.Refund(ctx, p.ID, dec("30"), "")
	s.Require().NoError(err)
	s.Equal(payments.StatusCaptured, p.Status)
	s.assertAmounts(p, "80", "30")

	_, err = s.ledger.Refund(ctx, p.ID, dec("60"), "")
	s.True(apperr.HasCode(err, apperr.CodeInvalidPaymentState))

	p, err = s.ledger.Refund(ctx, p.ID, dec("50"), "")
	s.Require().NoError(err)
	s.Equal(payments.StatusRefunded, p.Status)
	s.assertAmounts(p, "80", "80")
}

func (s *ledgerSuite) TestVoid() {
	ctx := context.Background()
	p := s.authorize("55.10", "")

	p, err := s.ledger.Void(ctx, p.ID, "void-1")
	s.Require().NoError(err)
	s.Equal(payments.StatusVoided, p.Status)

	txs, err := s.ledger.Transactions(ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(txs, 2)
	s.Equal(payments.TxVoid, txs[1].Type)
	s.True(txs[1].Amount.Equal(dec("55.10")))

	_, err = s.ledger.Capture(ctx, p.ID, dec("1"), "")
	s.True(apperr.HasCode(err, apperr.CodeInvalidPaymentState))
}

func (s *ledgerSuite) TestVoidAfterCaptureRejected() {
	ctx := context.Background()
	p := s.authorize("50", "")
	_, err := s.ledger.Capture(ctx, p.ID, dec("5"), "")
	s.Require().NoError(err)

	_, err = s.ledger.Void(ctx, p.ID, "")
	s.True(apperr.HasCode(err, apperr.CodeInvalidPaymentState))
}

func (s *ledgerSuite) TestDeclinedCaptureKeepsStatus() {
	ctx := context.Background()
	p := s.authorize("50", "")
	s.gateway.decline[payments.TxCapture] = "Provider timeout"

	_, err := s.ledger.Capture(ctx, p.ID, dec("50"), "")
	s.True(apperr.HasCode(err, apperr.CodePaymentFailed))

	got, err := s.ledger.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(payments.StatusAuthorized, got.Status)
	s.assertAmounts(got, "0", "0")

	txs, err := s.ledger.Transactions(ctx, p.ID)
	s.Require().NoError(err)
	s.Require().Len(txs, 2)
	s.Equal(payments.TxFailed, txs[1].Status)
}

func (s *ledgerSuite) TestVoidGatewayError() {
	ctx := context.Background()
	p := s.authorize("50", "")
	s.gateway.fail[payments.TxVoid] = errors.New("connection refused")

	_, err := s.ledger.Void(ctx, p.ID, "")
	s.True(apperr.HasCode(err, apperr.CodeGatewayUnavailable))

	got, err := s.ledger.Get(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(payments.StatusAuthorized, got.Status)
}

func (s *ledgerSuite) TestNotFound() {
	_, err := s.ledger.Capture(context.Background(), uuid.New(), dec("1"), "")
	s.True(apperr.HasCode(err, apperr.CodeNotFound))
}

func TestSimulatorRates(t *testing.T) {
	ctx := context.Background()
	op := payments.Operation{Type: payments.TxAuthorize, PaymentID: uuid.New(), Amount: dec("1"), Currency: currency.USD}

	always := payments.NewSimulator(payments.Rates{Authorize: 1, Capture: 1, Refund: 1, Void: 1}, 0)
	never := payments.NewSimulator(payments.Rates{}, 0)
	for range 50 {
		out, err := always.Simulate(ctx, op)
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Regexp(t, `^mock-txn-[0-9a-f]{8}$`, out.ProviderReference)
		assert.Empty(t, out.ErrorMessage)

		out, err = never.Simulate(ctx, op)
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.NotEmpty(t, out.ErrorMessage)
	}
}

func TestSimulatorHonoursContext(t *testing.T) {
	sim := payments.NewSimulator(payments.Rates{Authorize: 1}, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sim.Simulate(ctx, payments.Operation{Type: payments.TxAuthorize})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPaymentRules(t *testing.T) {
	p := payments.Payment{Status: payments.StatusAuthorized, Amount: dec("100"), CapturedAmount: dec("60"), RefundedAmount: decimal.Zero}

	assert.True(t, p.CanCapture(dec("40")))
	assert.False(t, p.CanCapture(dec("40.01")))
	assert.False(t, p.CanRefund(dec("1")))
	assert.False(t, p.CanVoid())

	p.CapturedAmount = decimal.Zero
	assert.True(t, p.CanVoid())

	p.Status = payments.StatusCaptured
	p.CapturedAmount = dec("100")
	assert.True(t, p.CanRefund(dec("100")))
	assert.False(t, p.CanRefund(dec("100.01")))
	assert.True(t, p.IsFullyCaptured())
}
