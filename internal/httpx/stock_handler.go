package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/inventory"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type StockService interface {
	CreateStockItem(ctx context.Context, item inventory.StockItem) (inventory.StockItem, error)
	Restock(ctx context.Context, sku string, qty int, reason string) (inventory.StockItem, error)
	Adjust(ctx context.Context, sku string, available int, reason string) (inventory.StockItem, error)
	GetStockItem(ctx context.Context, sku string) (inventory.StockItem, error)
	Movements(ctx context.Context, sku string) ([]inventory.Movement, error)
	LowStock(ctx context.Context) ([]inventory.StockItem, error)
}

// StockHandler is the back-office surface of the stock ledger.
type StockHandler struct {
	Svc StockService
	Log *zap.Logger
}

func (h *StockHandler) Register(r chi.Router) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r.Route("/stock", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/low", h.lowStock)
		r.Get("/{sku}", h.get)
		r.Post("/{sku}/restock", h.restock)
		r.Put("/{sku}/available", h.adjust)
		r.Get("/{sku}/movements", h.movements)
	})
}

type stockResp struct {
	SKU               string    `json:"sku"`
	ProductID         uuid.UUID `json:"product_id"`
	AvailableQty      int       `json:"available_qty"`
	ReservedQty       int       `json:"reserved_qty"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	LowStock          bool      `json:"low_stock"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toStockResp(s inventory.StockItem) stockResp {
	return stockResp{
		SKU:               s.SKU,
		ProductID:         s.ProductID,
		AvailableQty:      s.AvailableQty,
		ReservedQty:       s.ReservedQty,
		LowStockThreshold: s.LowStockThreshold,
		LowStock:          s.IsLowStock(),
		UpdatedAt:         s.UpdatedAt,
	}
}

type movementResp struct {
	ID              uuid.UUID              `json:"id"`
	Type            inventory.MovementType `json:"type"`
	Quantity        int                    `json:"quantity"`
	AvailableBefore int                    `json:"available_before"`
	AvailableAfter  int                    `json:"available_after"`
	ReservedBefore  int                    `json:"reserved_before"`
	ReservedAfter   int                    `json:"reserved_after"`
	ReservationID   *uuid.UUID             `json:"reservation_id,omitempty"`
	Reason          string                 `json:"reason,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

type createStockReq struct {
	SKU               string    `json:"sku"`
	ProductID         uuid.UUID `json:"product_id"`
	AvailableQty      int       `json:"available_qty"`
	LowStockThreshold int       `json:"low_stock_threshold"`
}

func (h *StockHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createStockReq
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.Log, err)
		return
	}
	item, err := h.Svc.CreateStockItem(r.Context(), inventory.StockItem{
		SKU:               req.SKU,
		ProductID:         req.ProductID,
		AvailableQty:      req.AvailableQty,
		LowStockThreshold: req.LowStockThreshold,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockResp(item))
}

func (h *StockHandler) get(w http.ResponseWriter, r *http.Request) {
	item, err := h.Svc.GetStockItem(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResp(item))
}

type quantityReq struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *StockHandler) restock(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.Svc.Restock)
}

func (h *StockHandler) adjust(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.Svc.Adjust)
}

func (h *StockHandler) change(w http.ResponseWriter, r *http.Request, apply func(context.Context, string, int, string) (inventory.StockItem, error)) {
	var req quantityReq
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Reason == "" {
		writeError(w, h.Log, apperr.Validation("reason is required"))
		return
	}
	item, err := apply(r.Context(), chi.URLParam(r, "sku"), req.Quantity, req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResp(item))
}

func (h *StockHandler) movements(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if _, err := h.Svc.GetStockItem(r.Context(), sku); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ms, err := h.Svc.Movements(r.Context(), sku)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(ms, func(m inventory.Movement, _ int) movementResp {
		return movementResp{
			ID:              m.ID,
			Type:            m.Type,
			Quantity:        m.Quantity,
			AvailableBefore: m.AvailableBefore,
			AvailableAfter:  m.AvailableAfter,
			ReservedBefore:  m.ReservedBefore,
			ReservedAfter:   m.ReservedAfter,
			ReservationID:   m.ReservationID,
			Reason:          m.Reason,
			CreatedAt:       m.CreatedAt,
		}
	}))
}

func (h *StockHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Svc.LowStock(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(items, func(s inventory.StockItem, _ int) stockResp { return toStockResp(s) }))
}
