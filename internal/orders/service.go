package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/inventory"
	"github.com/ariefcatur/order-fulfillment/internal/payments"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
)

var tracer = otel.Tracer("github.com/ariefcatur/order-fulfillment/internal/orders")

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type Deps struct {
	Repo      Repository
	Carts     CartLookup
	Addresses AddressLookup
	Payments  PaymentLedger
	Inventory InventoryLedger
	Events    EventPublisher
	Log       *zap.Logger
}

type Settings struct {
	Currency     currency.Unit
	ShippingRate decimal.Decimal
}

// Service runs the order saga. Each step commits on its own; a failing step
// triggers the compensations of the steps before it.
type Service struct {
	repo      Repository
	carts     CartLookup
	addresses AddressLookup
	payments  PaymentLedger
	inventory InventoryLedger
	events    EventPublisher
	settings  Settings
	now       func() time.Time
	log       *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(d Deps, settings Settings, opts ...Option) *Service {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		repo:      d.Repo,
		carts:     d.Carts,
		addresses: d.Addresses,
		payments:  d.Payments,
		inventory: d.Inventory,
		events:    d.Events,
		settings:  settings,
		now:       time.Now,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateOrderRequest struct {
	UserID            uuid.UUID `json:"user_id"`
	CartID            uuid.UUID `json:"cart_id"`
	ShippingAddressID uuid.UUID `json:"shipping_address_id"`
	// BillingAddressID defaults to the shipping address.
	BillingAddressID uuid.UUID `json:"billing_address_id"`
}

func (r CreateOrderRequest) Validate() error {
	switch {
	case r.UserID == uuid.Nil:
		return apperr.Validation("user_id is required")
	case r.CartID == uuid.Nil:
		return apperr.Validation("cart_id is required")
	case r.ShippingAddressID == uuid.Nil:
		return apperr.Validation("shipping_address_id is required")
	}
	return nil
}

func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (_ Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder", trace.WithAttributes(
		attribute.String("user.id", req.UserID.String()),
		attribute.String("cart.id", req.CartID.String()),
	))
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return Order{}, err
	}

	// 1. snapshots
	cart, err := s.carts.GetCart(ctx, req.CartID)
	if err != nil {
		return Order{}, err
	}
	if cart.UserID != uuid.Nil && cart.UserID != req.UserID {
		return Order{}, apperr.Validation("cart %s does not belong to user %s", req.CartID, req.UserID)
	}
	if len(cart.Items) == 0 {
		return Order{}, apperr.Validation("cart %s is empty", req.CartID)
	}
	shipping, err := s.addresses.GetAddress(ctx, req.ShippingAddressID)
	if err != nil {
		return Order{}, err
	}
	billing := shipping
	if req.BillingAddressID != uuid.Nil && req.BillingAddressID != req.ShippingAddressID {
		if billing, err = s.addresses.GetAddress(ctx, req.BillingAddressID); err != nil {
			return Order{}, err
		}
	}

	// 2. persist
	o := s.buildOrder(req, cart, shipping, billing)
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return Order{}, fmt.Errorf("repo.Create: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", o.ID.String()))
	log := s.log.With(zap.String("order_id", o.ID.String()))
	log.Info("order created",
		zap.String("user_id", o.UserID.String()),
		zap.Int("items", len(o.Items)),
		zap.String("total", o.Total.StringFixed(2)))
	s.publish(ctx, o, EventOrderCreated, createdPayload(o))

	// 3. authorize
	payment, err := s.payments.Authorize(ctx, payments.AuthorizeRequest{
		OrderID:        o.ID,
		UserID:         o.UserID,
		Amount:         o.Total,
		Currency:       o.Currency,
		IdempotencyKey: idempotencyKey(o.ID, "authorize"),
	})
	if err != nil {
		return Order{}, s.failPayment(ctx, &o, err)
	}

	// 4. authorized
	if err := s.repo.SetPayment(ctx, o.ID, payment.ID, s.now().UTC()); err != nil {
		return Order{}, fmt.Errorf("repo.SetPayment: %w", err)
	}
	o.PaymentID = &payment.ID
	if err := s.advance(ctx, &o, StatusPaymentAuthorized); err != nil {
		log.Warn("order changed during authorization, voiding payment", zap.Error(err))
		s.voidPayment(ctx, o)
		return Order{}, err
	}
	log.Info("payment authorized", zap.String("payment_id", payment.ID.String()))

	// 5. reserve
	res, err := s.inventory.Reserve(ctx, o.ID, lo.Map(o.Items, func(it OrderItem, _ int) inventory.Line {
		return inventory.Line{SKU: it.SKU, Quantity: it.Quantity}
	}))
	if err != nil {
		return Order{}, s.failReservation(ctx, &o, payment.ID, err)
	}

	// 6. confirm
	if err := s.advance(ctx, &o, StatusInventoryReserved); err != nil {
		s.abandonReservation(ctx, o, res, err)
		return Order{}, err
	}
	if err := s.transition(ctx, &o, StatusConfirmed); err != nil {
		return Order{}, err
	}
	s.publish(ctx, o, EventOrderConfirmed, confirmedPayload(o, res.ID.String()))
	log.Info("order confirmed", zap.String("reservation_id", res.ID.String()))
	return o, nil
}

func (s *Service) buildOrder(req CreateOrderRequest, cart CartSnapshot, shipping, billing AddressSnapshot) Order {
	now := s.now().UTC()
	o := Order{
		ID:              uuid.New(),
		UserID:          req.UserID,
		CartID:          req.CartID,
		Status:          StatusPendingPayment,
		Currency:        s.settings.Currency,
		Shipping:        s.settings.ShippingRate,
		Tax:             decimal.Zero,
		Discount:        decimal.Zero,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.Items = lo.Map(cart.Items, func(it CartItem, _ int) OrderItem {
		return OrderItem{
			ProductID:     it.ProductID,
			SKU:           it.SKU,
			TitleSnapshot: it.Title,
			UnitPrice:     it.UnitPrice,
			Quantity:      it.Quantity,
			LineTotal:     it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
		}
	})
	o.Subtotal = lo.Reduce(o.Items, func(sum decimal.Decimal, it OrderItem, _ int) decimal.Decimal {
		return sum.Add(it.LineTotal)
	}, decimal.Zero)
	o.ComputeTotal()
	return o
}

// failPayment moves the order to PAYMENT_FAILED when the authorization was
// declined or could not be obtained, and returns the original error.
func (s *Service) failPayment(ctx context.Context, o *Order, cause error) error {
	kind := apperr.KindOf(cause)
	if kind != apperr.KindPayment && kind != apperr.KindUnavailable {
		return cause
	}
	if err := s.transition(ctx, o, StatusPaymentFailed); err != nil {
		s.log.Error("mark order payment failed",
			zap.String("order_id", o.ID.String()),
			zap.Error(err))
		return cause
	}
	s.publish(ctx, *o, EventOrderPaymentFailed, paymentFailedPayload(*o, cause.Error()))
	s.log.Warn("payment failed",
		zap.String("order_id", o.ID.String()),
		zap.String("code", apperr.CodeOf(cause)),
		zap.Error(cause))
	return cause
}

// failReservation voids the authorization and cancels the order. The
// reservation error is returned to the caller either way.
func (s *Service) failReservation(ctx context.Context, o *Order, paymentID uuid.UUID, cause error) error {
	log := s.log.With(zap.String("order_id", o.ID.String()), zap.String("payment_id", paymentID.String()))
	log.Warn("inventory reservation failed, voiding payment", zap.Error(cause))

	if _, err := s.payments.Void(ctx, paymentID, idempotencyKey(o.ID, "void")); err != nil {
		log.Error("void payment after reservation failure", zap.Error(err))
		s.remediate(ctx, o.ID, RemediationVoidPayment, paymentID.String(), err)
	}

	from := o.Status
	reason := "inventory reservation failed: " + apperr.CodeOf(cause)
	if err := s.transition(ctx, o, StatusCancelled); err != nil {
		log.Error("cancel order after reservation failure", zap.Error(err))
		return cause
	}
	s.publish(ctx, *o, EventOrderCancelled, cancelledPayload(*o, from, reason))
	return cause
}

// abandonReservation returns the stock of a reservation the saga could not
// attach to its order, usually because the order was cancelled meanwhile.
func (s *Service) abandonReservation(ctx context.Context, o Order, res inventory.Reservation, cause error) {
	log := s.log.With(zap.String("order_id", o.ID.String()), zap.String("reservation_id", res.ID.String()))
	log.Warn("order changed during reservation, releasing stock", zap.Error(cause))

	_, err := s.inventory.Release(ctx, res.ID, "order no longer reservable: "+apperr.CodeOf(cause))
	switch {
	case err == nil:
		log.Info("reservation released")
	case apperr.HasCode(err, apperr.CodeInvalidReservationState):
		// the concurrent cancel got there first
		log.Info("reservation already returned to stock", zap.Error(err))
	default:
		log.Error("release abandoned reservation", zap.Error(err))
		s.remediate(ctx, o.ID, RemediationReleaseReservation, res.ID.String(), err)
	}
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return s.repo.Get(ctx, id)
}

type Page struct {
	Orders []Order `json:"orders"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Total  int     `json:"total"`
}

// ListUserOrders pages through a user's orders newest first. Page starts at
// zero.
func (s *Service) ListUserOrders(ctx context.Context, userID uuid.UUID, page, limit int) (Page, error) {
	if page < 0 {
		return Page{}, apperr.Validation("page must not be negative")
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	limit = min(limit, maxPageLimit)

	orders, total, err := s.repo.ListByUser(ctx, userID, page*limit, limit)
	if err != nil {
		return Page{}, err
	}
	return Page{Orders: orders, Page: page, Limit: limit, Total: total}, nil
}

// CancelOrder releases stock and voids the payment before moving the order
// to CANCELLED. Compensation failures are recorded, not returned.
func (s *Service) CancelOrder(ctx context.Context, id uuid.UUID, reason string) (_ Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.CancelOrder", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer func() { endSpan(span, err) }()

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !o.CanBeCancelled() {
		allowed := lo.Map(AllowedTransitions(o.Status), func(s Status, _ int) string { return string(s) })
		return Order{}, apperr.InvalidOrderState(o.ID.String(), string(o.Status), string(StatusCancelled), allowed)
	}
	log := s.log.With(zap.String("order_id", o.ID.String()))

	s.releaseReservation(ctx, o, reason)
	if o.PaymentID != nil && o.Status != StatusPendingPayment {
		s.voidPayment(ctx, o)
	}

	from := o.Status
	if err := s.transition(ctx, &o, StatusCancelled); err != nil {
		return Order{}, err
	}
	s.publish(ctx, o, EventOrderCancelled, cancelledPayload(o, from, reason))
	log.Info("order cancelled", zap.String("from_status", string(from)), zap.String("reason", reason))
	return o, nil
}

func (s *Service) releaseReservation(ctx context.Context, o Order, reason string) {
	log := s.log.With(zap.String("order_id", o.ID.String()))

	res, err := s.inventory.FindByOrder(ctx, o.ID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return
	}
	if err != nil {
		log.Error("find reservation for cancel", zap.Error(err))
		s.remediate(ctx, o.ID, RemediationReleaseReservation, "order:"+o.ID.String(), err)
		return
	}
	if res.Status == inventory.ReservationReleased || res.Status == inventory.ReservationExpired {
		log.Warn("reservation already returned to stock",
			zap.String("reservation_id", res.ID.String()),
			zap.String("status", string(res.Status)))
		return
	}
	if _, err := s.inventory.Release(ctx, res.ID, "order cancelled: "+reason); err != nil {
		log.Error("release reservation", zap.String("reservation_id", res.ID.String()), zap.Error(err))
		s.remediate(ctx, o.ID, RemediationReleaseReservation, res.ID.String(), err)
		return
	}
	log.Info("reservation released", zap.String("reservation_id", res.ID.String()))
}

func (s *Service) voidPayment(ctx context.Context, o Order) {
	log := s.log.With(zap.String("order_id", o.ID.String()), zap.String("payment_id", o.PaymentID.String()))

	p, err := s.payments.Get(ctx, *o.PaymentID)
	if err != nil {
		log.Error("load payment for cancel", zap.Error(err))
		s.remediate(ctx, o.ID, RemediationVoidPayment, o.PaymentID.String(), err)
		return
	}
	if !p.CanVoid() {
		log.Warn("payment not voidable, skipping", zap.String("status", string(p.Status)))
		return
	}
	if _, err := s.payments.Void(ctx, p.ID, idempotencyKey(o.ID, "void")); err != nil {
		log.Error("void payment", zap.Error(err))
		s.remediate(ctx, o.ID, RemediationVoidPayment, p.ID.String(), err)
		return
	}
	log.Info("payment voided")
}

// UpdateStatus applies an externally driven transition such as shipping or
// delivery. Shipping commits the reserved stock.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, target Status) (_ Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", id.String()),
		attribute.String("order.status", string(target)),
	))
	defer func() { endSpan(span, err) }()

	if target == StatusCancelled {
		return s.CancelOrder(ctx, id, "status update")
	}

	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := s.advance(ctx, &o, target); err != nil {
		return Order{}, err
	}

	if target == StatusShipped {
		s.confirmReservation(ctx, o)
	}
	return o, nil
}

func (s *Service) confirmReservation(ctx context.Context, o Order) {
	log := s.log.With(zap.String("order_id", o.ID.String()))

	res, err := s.inventory.FindByOrder(ctx, o.ID)
	if err != nil {
		log.Error("find reservation for shipment", zap.Error(err))
		s.remediate(ctx, o.ID, RemediationConfirmReservation, "order:"+o.ID.String(), err)
		return
	}
	if _, err := s.inventory.Confirm(ctx, res.ID); err != nil {
		log.Error("confirm reservation", zap.String("reservation_id", res.ID.String()), zap.Error(err))
		s.remediate(ctx, o.ID, RemediationConfirmReservation, res.ID.String(), err)
		return
	}
	log.Info("reservation confirmed for shipment", zap.String("reservation_id", res.ID.String()))
}

func (s *Service) Remediations(ctx context.Context, status RemediationStatus) ([]Remediation, error) {
	return s.repo.ListRemediations(ctx, status)
}

func (s *Service) ResolveRemediation(ctx context.Context, id uuid.UUID) error {
	return s.repo.ResolveRemediation(ctx, id, s.now().UTC())
}

// transition validates and persists one status change.
func (s *Service) transition(ctx context.Context, o *Order, target Status) error {
	from := o.Status
	next := *o
	if err := Transition(&next, target); err != nil {
		return err
	}
	at := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, o.ID, from, target, at); err != nil {
		return err
	}
	next.UpdatedAt = at
	*o = next
	return nil
}

// advance is transition followed by an OrderStatusChanged event.
func (s *Service) advance(ctx context.Context, o *Order, target Status) error {
	from := o.Status
	if err := s.transition(ctx, o, target); err != nil {
		return err
	}
	s.publish(ctx, *o, EventOrderStatusChanged, statusChangedPayload(*o, from))
	return nil
}

// publish never fails the saga. The event log already keeps unsent events
// for redelivery; a storage failure here is only logged.
func (s *Service) publish(ctx context.Context, o Order, eventType string, payload map[string]any) {
	if _, err := s.events.Publish(ctx, AggregateType, o.ID.String(), eventType, payload); err != nil {
		s.log.Error("publish order event",
			zap.String("order_id", o.ID.String()),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *Service) remediate(ctx context.Context, orderID uuid.UUID, kind RemediationKind, target string, cause error) {
	rem := Remediation{
		ID:        uuid.New(),
		OrderID:   orderID,
		Kind:      kind,
		TargetID:  target,
		Reason:    cause.Error(),
		Status:    RemediationOpen,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.AddRemediation(ctx, rem); err != nil {
		s.log.Error("record remediation",
			zap.String("order_id", orderID.String()),
			zap.String("kind", string(kind)),
			zap.String("target_id", target),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	s.log.Warn("remediation recorded",
		zap.String("remediation_id", rem.ID.String()),
		zap.String("order_id", orderID.String()),
		zap.String("kind", string(kind)),
		zap.String("target_id", target))
}

func idempotencyKey(orderID uuid.UUID, step string) string {
	return "order:" + orderID.String() + ":" + step
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(err))
	}
	span.End()
}
