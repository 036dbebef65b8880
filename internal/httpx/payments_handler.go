package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/payments"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentService interface {
	Get(ctx context.Context, id uuid.UUID) (payments.Payment, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (payments.Payment, error)
	Transactions(ctx context.Context, paymentID uuid.UUID) ([]payments.Transaction, error)
	Capture(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, key string) (payments.Payment, error)
	Refund(ctx context.Context, paymentID uuid.UUID, amount decimal.Decimal, key string) (payments.Payment, error)
	Void(ctx context.Context, paymentID uuid.UUID, key string) (payments.Payment, error)
}

// PaymentsHandler exposes the payment lifecycle after authorization. The
// Idempotency-Key header becomes the ledger key, so a repeated request
// returns the stored result without calling the gateway again.
type PaymentsHandler struct {
	Svc PaymentService
	Log *zap.Logger
}

func (h *PaymentsHandler) Register(r chi.Router) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r.Route("/payments", func(r chi.Router) {
		r.Get("/order/{id}", h.getByOrder)
		r.Get("/{id}", h.get)
		r.Get("/{id}/transactions", h.transactions)
		r.Post("/{id}/capture", h.capture)
		r.Post("/{id}/refund", h.refund)
		r.Post("/{id}/void", h.void)
	})
}

type paymentResp struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        uuid.UUID       `json:"order_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Status         payments.Status `json:"status"`
	Amount         string          `json:"amount"`
	CapturedAmount string          `json:"captured_amount"`
	RefundedAmount string          `json:"refunded_amount"`
	Currency       string          `json:"currency"`
	Provider       string          `json:"provider"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toPaymentResp(p payments.Payment) paymentResp {
	return paymentResp{
		ID:             p.ID,
		OrderID:        p.OrderID,
		UserID:         p.UserID,
		Status:         p.Status,
		Amount:         p.Amount.StringFixed(2),
		CapturedAmount: p.CapturedAmount.StringFixed(2),
		RefundedAmount: p.RefundedAmount.StringFixed(2),
		Currency:       p.Currency.String(),
		Provider:       p.Provider,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

type transactionResp struct {
	ID                uuid.UUID         `json:"id"`
	Type              payments.TxType   `json:"type"`
	Status            payments.TxStatus `json:"status"`
	Amount            string            `json:"amount"`
	ProviderReference string            `json:"provider_reference,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

type amountReq struct {
	Amount decimal.Decimal `json:"amount"`
}

// owned rejects callers whose X-User-Id names someone other than the payer.
// Service callers send no user header.
func owned(r *http.Request, p payments.Payment) error {
	if caller := r.Header.Get(HeaderUserID); caller != "" && caller != p.UserID.String() {
		return apperr.Forbidden("payment belongs to another user")
	}
	return nil
}

func (h *PaymentsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := h.Svc.Get(r.Context(), id)
	if err == nil {
		err = owned(r, p)
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResp(p))
}

func (h *PaymentsHandler) getByOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := h.Svc.GetByOrder(r.Context(), id)
	if err == nil {
		err = owned(r, p)
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResp(p))
}

func (h *PaymentsHandler) transactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx := r.Context()
	p, err := h.Svc.Get(ctx, id)
	if err == nil {
		err = owned(r, p)
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	txs, err := h.Svc.Transactions(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(txs, func(t payments.Transaction, _ int) transactionResp {
		return transactionResp{
			ID:                t.ID,
			Type:              t.Type,
			Status:            t.Status,
			Amount:            t.Amount.StringFixed(2),
			ProviderReference: t.ProviderReference,
			ErrorMessage:      t.ErrorMessage,
			CreatedAt:         t.CreatedAt,
		}
	}))
}

func (h *PaymentsHandler) capture(w http.ResponseWriter, r *http.Request) {
	h.withAmount(w, r, h.Svc.Capture)
}

func (h *PaymentsHandler) refund(w http.ResponseWriter, r *http.Request) {
	h.withAmount(w, r, h.Svc.Refund)
}

func (h *PaymentsHandler) withAmount(w http.ResponseWriter, r *http.Request,
	op func(context.Context, uuid.UUID, decimal.Decimal, string) (payments.Payment, error),
) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	var req amountReq
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := op(r.Context(), id, req.Amount, r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResp(p))
}

func (h *PaymentsHandler) void(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	p, err := h.Svc.Void(r.Context(), id, r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResp(p))
}
