package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
)

var tracer = otel.Tracer("github.com/ariefcatur/order-fulfillment/internal/payments")

const defaultProvider = "simulator"

// Ledger drives payments through authorize, capture, refund and void. Gateway
// calls never run inside a store transaction; the result is written afterwards
// with an optimistic version check.
type Ledger struct {
	store    Store
	gateway  Gateway
	timeout  time.Duration
	provider string
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func WithProvider(name string) Option { return func(l *Ledger) { l.provider = name } }

func NewLedger(store Store, gateway Gateway, timeout time.Duration, log *zap.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		store:    store,
		gateway:  gateway,
		timeout:  timeout,
		provider: defaultProvider,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type AuthorizeRequest struct {
	OrderID        uuid.UUID
	UserID         uuid.UUID
	Amount         decimal.Decimal
	Currency       currency.Unit
	IdempotencyKey string
}

func (l *Ledger) Authorize(ctx context.Context, req AuthorizeRequest) (_ Payment, err error) {
	ctx, span := tracer.Start(ctx, "payments.Authorize", trace.WithAttributes(
		attribute.String("order.id", req.OrderID.String()),
		attribute.String("amount", req.Amount.String()),
	))
	defer func() { endSpan(span, err) }()

	if p, ok, err := l.replay(ctx, req.IdempotencyKey); err != nil || ok {
		if err == nil && p.Status == StatusFailed {
			return Payment{}, apperr.PaymentFailed(p.ID.String(), "authorization previously declined")
		}
		return p, err
	}
	if !req.Amount.IsPositive() {
		return Payment{}, apperr.Validation("authorization amount must be positive")
	}

	now := l.now().UTC()
	p := Payment{
		ID:             uuid.New(),
		OrderID:        req.OrderID,
		UserID:         req.UserID,
		Status:         StatusInitiated,
		Amount:         req.Amount,
		CapturedAmount: decimal.Zero,
		RefundedAmount: decimal.Zero,
		Currency:       req.Currency,
		Provider:       l.provider,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := l.store.Create(ctx, p); err != nil {
		return Payment{}, err
	}

	outcome, gwErr := l.call(ctx, Operation{Type: TxAuthorize, PaymentID: p.ID, Amount: p.Amount, Currency: p.Currency})

	next := p
	next.Version = p.Version + 1
	next.UpdatedAt = l.now().UTC()
	t := l.newTransaction(p.ID, TxAuthorize, req.Amount, req.IdempotencyKey, outcome, gwErr)
	if t.Status == TxSuccess {
		next.Status = StatusAuthorized
	} else {
		next.Status = StatusFailed
	}

	stored, replayed, err := l.record(ctx, next, p.Version, t)
	if err != nil || replayed {
		return stored, err
	}
	if gwErr != nil {
		return Payment{}, apperr.GatewayUnavailable(gwErr).WithDetail("payment_id", p.ID.String())
	}
	if !outcome.Success {
		l.log.Info("authorization declined",
			zap.String("payment_id", p.ID.String()),
			zap.String("order_id", p.OrderID.String()),
			zap.String("reason", outcome.ErrorMessage))
		return Payment{}, apperr.PaymentFailed(p.ID.String(), outcome.ErrorMessage)
	}

	l.log.Info("payment authorized",
		zap.String("payment_id", p.ID.String()),
		zap.String("order_id", p.OrderID.String()),
		zap.String("amount", p.Amount.String()))
	return stored, nil
}

// Capture takes amount out of the authorization. The payment becomes CAPTURED
// once the whole authorized amount has been captured.
func (l *Ledger) Capture(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, key string) (Payment, error) {
	return l.mutate(ctx, paymentID, TxCapture, amount, key,
		func(p Payment) bool { return p.CanCapture(amount) },
		func(p *Payment) {
			p.CapturedAmount = p.CapturedAmount.Add(amount)
			if p.IsFullyCaptured() {
				p.Status = StatusCaptured
			}
		})
}

// Refund returns captured money. The payment becomes REFUNDED once everything
// captured has been refunded.
func (l *Ledger) Refund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, key string) (Payment, error) {
	return l.mutate(ctx, paymentID, TxRefund, amount, key,
		func(p Payment) bool { return p.CanRefund(amount) },
		func(p *Payment) {
			p.RefundedAmount = p.RefundedAmount.Add(amount)
			if p.IsFullyRefunded() {
				p.Status = StatusRefunded
			}
		})
}

// Void cancels an authorization that has not been captured.
func (l *Ledger) Void(ctx context.Context, paymentID uuid.UUID, key string) (Payment, error) {
	return l.mutate(ctx, paymentID, TxVoid, decimal.Zero, key,
		func(p Payment) bool { return p.CanVoid() },
		func(p *Payment) { p.Status = StatusVoided })
}

func (l *Ledger) mutate(
	ctx context.Context,
	paymentID uuid.UUID,
	op TxType,
	amount decimal.Decimal,
	key string,
	allowed func(Payment) bool,
	apply func(*Payment),
) (_ Payment, err error) {
	ctx, span := tracer.Start(ctx, "payments."+string(op), trace.WithAttributes(
		attribute.String("payment.id", paymentID.String()),
	))
	defer func() { endSpan(span, err) }()

	if p, ok, err := l.replay(ctx, key); err != nil || ok {
		return p, err
	}
	if op != TxVoid && !amount.IsPositive() {
		return Payment{}, apperr.Validation("%s amount must be positive", op)
	}

	p, err := l.store.Get(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if !allowed(p) {
		return Payment{}, apperr.InvalidPaymentState(p.ID.String(), string(p.Status), string(op)).
			WithDetail("amount", amount.String()).
			WithDetail("authorized", p.Amount.String()).
			WithDetail("captured", p.CapturedAmount.String()).
			WithDetail("refunded", p.RefundedAmount.String())
	}
	if op == TxVoid {
		amount = p.Amount
	}

	outcome, gwErr := l.call(ctx, Operation{Type: op, PaymentID: p.ID, Amount: amount, Currency: p.Currency})

	next := p
	next.Version = p.Version + 1
	next.UpdatedAt = l.now().UTC()
	t := l.newTransaction(p.ID, op, amount, key, outcome, gwErr)
	if t.Status == TxSuccess {
		apply(&next)
	}

	stored, replayed, err := l.record(ctx, next, p.Version, t)
	if err != nil || replayed {
		return stored, err
	}
	if gwErr != nil {
		return Payment{}, apperr.GatewayUnavailable(gwErr).WithDetail("payment_id", p.ID.String())
	}
	if !outcome.Success {
		l.log.Warn("payment operation declined",
			zap.String("payment_id", p.ID.String()),
			zap.String("operation", string(op)),
			zap.String("reason", outcome.ErrorMessage))
		return Payment{}, apperr.PaymentFailed(p.ID.String(), outcome.ErrorMessage).
			WithDetail("operation", string(op))
	}

	l.log.Info("payment updated",
		zap.String("payment_id", p.ID.String()),
		zap.String("operation", string(op)),
		zap.String("amount", amount.String()),
		zap.String("status", string(stored.Status)))
	return stored, nil
}

func (l *Ledger) call(ctx context.Context, op Operation) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.gateway.Simulate(ctx, op)
}

func (l *Ledger) newTransaction(paymentID uuid.UUID, op TxType, amount decimal.Decimal, key string, outcome Outcome, gwErr error) Transaction {
	t := Transaction{
		ID:                uuid.New(),
		PaymentID:         paymentID,
		Type:              op,
		Status:            TxFailed,
		Amount:            amount,
		ProviderReference: outcome.ProviderReference,
		ErrorMessage:      outcome.ErrorMessage,
		IdempotencyKey:    key,
		CreatedAt:         l.now().UTC(),
	}
	switch {
	case gwErr != nil:
		t.ErrorMessage = "gateway unavailable: " + gwErr.Error()
	case outcome.Success:
		t.Status = TxSuccess
	}
	return t
}

// replay returns the payment a previous call with the same idempotency key
// produced, if any.
func (l *Ledger) replay(ctx context.Context, key string) (Payment, bool, error) {
	if key == "" {
		return Payment{}, false, nil
	}
	t, ok, err := l.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return Payment{}, false, fmt.Errorf("store.FindByIdempotencyKey: %w", err)
	}
	if !ok {
		return Payment{}, false, nil
	}
	p, err := l.store.Get(ctx, t.PaymentID)
	if err != nil {
		return Payment{}, false, err
	}
	l.log.Info("idempotent replay",
		zap.String("payment_id", p.ID.String()),
		zap.String("idempotency_key", key))
	return p, true, nil
}

// record writes the outcome. A concurrent request that stored the same key
// first wins and its payment is returned with replayed set.
func (l *Ledger) record(ctx context.Context, next Payment, expected int64, t Transaction) (Payment, bool, error) {
	err := l.store.Record(ctx, next, expected, t)
	if errors.Is(err, errKeyTaken) {
		p, _, err := l.replay(ctx, t.IdempotencyKey)
		return p, true, err
	}
	if apperr.HasCode(err, apperr.CodeVersionConflict) {
		if p, ok, rerr := l.replay(ctx, t.IdempotencyKey); rerr == nil && ok {
			return p, true, nil
		}
	}
	if err != nil {
		return Payment{}, false, err
	}
	return next, false, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (Payment, error) {
	return l.store.Get(ctx, id)
}

func (l *Ledger) GetByOrder(ctx context.Context, orderID uuid.UUID) (Payment, error) {
	return l.store.GetByOrder(ctx, orderID)
}

func (l *Ledger) Transactions(ctx context.Context, paymentID uuid.UUID) ([]Transaction, error) {
	return l.store.Transactions(ctx, paymentID)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(err))
	}
	span.End()
}
