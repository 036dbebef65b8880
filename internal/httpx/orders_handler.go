package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/orders"
	"github.com/ariefcatur/order-fulfillment/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	HeaderUserID         = "X-User-Id"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// OrderService is the part of orders.Service the handlers call.
type OrderService interface {
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest) (orders.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (orders.Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID, page, limit int) (orders.Page, error)
	CancelOrder(ctx context.Context, id uuid.UUID, reason string) (orders.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, target orders.Status) (orders.Order, error)
	Remediations(ctx context.Context, status orders.RemediationStatus) ([]orders.Remediation, error)
	ResolveRemediation(ctx context.Context, id uuid.UUID) error
}

// OrdersHandler serves the order API. Redis is optional: without it
// idempotent creates and the status cache are skipped.
type OrdersHandler struct {
	Svc   OrderService
	Redis redis.Cmdable
	Log   *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Get("/users/{id}/orders", h.listUserOrders)
	r.Get("/remediations", h.listRemediations)
	r.Post("/remediations/{id}/resolve", h.resolveRemediation)
}

type createOrderReq struct {
	CartID            uuid.UUID `json:"cart_id"`
	ShippingAddressID uuid.UUID `json:"shipping_address_id"`
	BillingAddressID  uuid.UUID `json:"billing_address_id"`
}

type addressResp struct {
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

type orderItemResp struct {
	ProductID uuid.UUID `json:"product_id"`
	SKU       string    `json:"sku"`
	Title     string    `json:"title"`
	UnitPrice string    `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	LineTotal string    `json:"line_total"`
}

type orderResp struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	CartID          uuid.UUID       `json:"cart_id"`
	Status          orders.Status   `json:"status"`
	Currency        string          `json:"currency"`
	Subtotal        string          `json:"subtotal"`
	Shipping        string          `json:"shipping"`
	Tax             string          `json:"tax"`
	Discount        string          `json:"discount"`
	Total           string          `json:"total"`
	PaymentID       *uuid.UUID      `json:"payment_id,omitempty"`
	ShippingAddress addressResp     `json:"shipping_address"`
	BillingAddress  addressResp     `json:"billing_address"`
	Items           []orderItemResp `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toOrderResp(o orders.Order) orderResp {
	return orderResp{
		ID:              o.ID,
		UserID:          o.UserID,
		CartID:          o.CartID,
		Status:          o.Status,
		Currency:        o.Currency.String(),
		Subtotal:        o.Subtotal.StringFixed(2),
		Shipping:        o.Shipping.StringFixed(2),
		Tax:             o.Tax.StringFixed(2),
		Discount:        o.Discount.StringFixed(2),
		Total:           o.Total.StringFixed(2),
		PaymentID:       o.PaymentID,
		ShippingAddress: addressResp(o.ShippingAddress),
		BillingAddress:  addressResp(o.BillingAddress),
		Items: lo.Map(o.Items, func(it orders.OrderItem, _ int) orderItemResp {
			return orderItemResp{
				ProductID: it.ProductID,
				SKU:       it.SKU,
				Title:     it.TitleSnapshot,
				UnitPrice: it.UnitPrice.StringFixed(2),
				Quantity:  it.Quantity,
				LineTotal: it.LineTotal.StringFixed(2),
			}
		}),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

type statusResp struct {
	OrderID   uuid.UUID     `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func userID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(HeaderUserID)
	if raw == "" {
		return uuid.Nil, apperr.Validation("%s header is required", HeaderUserID)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation("%s header is not a uuid", HeaderUserID)
	}
	return id, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation("id %q is not a uuid", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return n, nil
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req createOrderReq
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.Log, err)
		return
	}

	ctx := r.Context()

	var idemKey string
	if key := r.Header.Get(HeaderIdempotencyKey); key != "" && h.Redis != nil {
		o, claimed, err := h.claimCreate(ctx, uid, key)
		switch {
		case err != nil:
			writeError(w, h.Log, err)
			return
		case !claimed:
			// A repeated Idempotency-Key returns the order the first request made.
			writeJSON(w, http.StatusOK, toOrderResp(o))
			return
		}
		idemKey = redisx.IdemOrderCreateKey(uid.String() + ":" + key)
	}

	o, err := h.Svc.CreateOrder(ctx, orders.CreateOrderRequest{
		UserID:            uid,
		CartID:            req.CartID,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
	})
	if err != nil {
		if idemKey != "" {
			if err := h.Redis.Del(context.WithoutCancel(ctx), idemKey).Err(); err != nil {
				h.Log.Warn("release idempotency key", zap.String("key", idemKey), zap.Error(err))
			}
		}
		writeError(w, h.Log, err)
		return
	}

	if idemKey != "" {
		if err := h.Redis.Set(context.WithoutCancel(ctx), idemKey, o.ID.String(), redisx.TTLIdempotency).Err(); err != nil {
			h.Log.Warn("store idempotency key", zap.String("order_id", o.ID.String()), zap.Error(err))
		}
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

// claimCreate marks key as pending for this user. When another request
// already holds it, the order it created is returned with claimed false, or
// a retryable conflict while that request is still running. A Redis
// failure degrades to a plain create.
func (h *OrdersHandler) claimCreate(ctx context.Context, uid uuid.UUID, key string) (orders.Order, bool, error) {
	rkey := redisx.IdemOrderCreateKey(uid.String() + ":" + key)
	ok, err := h.Redis.SetNX(ctx, rkey, redisx.IdemPending, redisx.TTLIdemPending).Result()
	if err != nil {
		h.Log.Warn("claim idempotency key", zap.String("key", rkey), zap.Error(err))
		return orders.Order{}, true, nil
	}
	if ok {
		return orders.Order{}, true, nil
	}

	raw, err := h.Redis.Get(ctx, rkey).Result()
	if errors.Is(err, redis.Nil) {
		// The holder failed and released the key between our two calls.
		return orders.Order{}, false, apperr.RequestInProgress(key)
	}
	if err != nil {
		return orders.Order{}, false, apperr.Internal(err, "read idempotency key")
	}
	if raw == redisx.IdemPending {
		return orders.Order{}, false, apperr.RequestInProgress(key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return orders.Order{}, false, apperr.Internal(err, "corrupt idempotency key")
	}
	o, err := h.Svc.GetOrder(ctx, id)
	if err != nil {
		return orders.Order{}, false, err
	}
	return o, false, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Svc.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

// getOrderStatus answers from the Redis cache and falls back to the store.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx := r.Context()

	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, redisx.OrderStatusKey(id.String())).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Svc.GetOrder(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusResp{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(statusResp{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt})
	if err != nil {
		return
	}
	if err := h.Redis.Set(ctx, redisx.OrderStatusKey(o.ID.String()), b, redisx.TTLStatusCache).Err(); err != nil {
		h.Log.Warn("cache order status", zap.String("order_id", o.ID.String()), zap.Error(err))
	}
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req cancelReq
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by request"
	}

	o, err := h.Svc.CancelOrder(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req updateStatusReq
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.Log, err)
		return
	}
	target, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	o, err := h.Svc.UpdateStatus(r.Context(), id, target)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheStatus(r.Context(), o)
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

type pageResp struct {
	Orders []orderResp `json:"orders"`
	Page   int         `json:"page"`
	Limit  int         `json:"limit"`
	Total  int         `json:"total"`
}

func (h *OrdersHandler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if caller := r.Header.Get(HeaderUserID); caller != "" && caller != id.String() {
		writeError(w, h.Log, apperr.Forbidden("orders belong to another user"))
		return
	}
	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	p, err := h.Svc.ListUserOrders(r.Context(), id, page, limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResp{
		Orders: lo.Map(p.Orders, func(o orders.Order, _ int) orderResp { return toOrderResp(o) }),
		Page:   p.Page,
		Limit:  p.Limit,
		Total:  p.Total,
	})
}

type remediationResp struct {
	ID         uuid.UUID                `json:"id"`
	OrderID    uuid.UUID                `json:"order_id"`
	Kind       orders.RemediationKind   `json:"kind"`
	TargetID   string                   `json:"target_id"`
	Reason     string                   `json:"reason"`
	Status     orders.RemediationStatus `json:"status"`
	CreatedAt  time.Time                `json:"created_at"`
	ResolvedAt *time.Time               `json:"resolved_at,omitempty"`
}

func (h *OrdersHandler) listRemediations(w http.ResponseWriter, r *http.Request) {
	status := orders.RemediationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", orders.RemediationOpen, orders.RemediationResolved:
	default:
		writeError(w, h.Log, apperr.Validation("unknown remediation status %q", status))
		return
	}
	rems, err := h.Svc.Remediations(r.Context(), status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(rems, func(rem orders.Remediation, _ int) remediationResp {
		return remediationResp(rem)
	}))
}

func (h *OrdersHandler) resolveRemediation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Svc.ResolveRemediation(r.Context(), id); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
