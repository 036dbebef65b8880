package clients

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type cartItemDTO struct {
	CartItemID uuid.UUID       `json:"cartItemId"`
	ProductID  uuid.UUID       `json:"productId"`
	SKU        string          `json:"sku"`
	Title      string          `json:"titleSnapshot"`
	UnitPrice  decimal.Decimal `json:"unitPriceSnapshot"`
	Quantity   int             `json:"quantity"`
	LineTotal  decimal.Decimal `json:"lineTotalAmount"`
}

type cartDTO struct {
	CartID   uuid.UUID       `json:"cartId"`
	UserID   uuid.UUID       `json:"userId"`
	Status   string          `json:"status"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Items    []cartItemDTO   `json:"items"`
}

// CartClient implements orders.CartLookup against the cart service.
type CartClient struct{ base }

func NewCartClient(url, token string, timeout time.Duration, hc *http.Client) *CartClient {
	return &CartClient{newBase(url, token, timeout, hc)}
}

func (c *CartClient) GetCart(ctx context.Context, cartID uuid.UUID) (orders.CartSnapshot, error) {
	var dto cartDTO
	err := c.getJSON(ctx, "/api/v1/carts/"+cartID.String(), &dto)
	if errors.Is(err, errNotFound) {
		return orders.CartSnapshot{}, apperr.NotFound("cart", cartID.String())
	}
	if err != nil {
		return orders.CartSnapshot{}, apperr.CartUnavailable(err)
	}

	return orders.CartSnapshot{
		CartID:   dto.CartID,
		UserID:   dto.UserID,
		Status:   dto.Status,
		Subtotal: dto.Subtotal,
		Items: lo.Map(dto.Items, func(it cartItemDTO, _ int) orders.CartItem {
			return orders.CartItem{
				CartItemID: it.CartItemID,
				ProductID:  it.ProductID,
				SKU:        it.SKU,
				Title:      it.Title,
				UnitPrice:  it.UnitPrice,
				Quantity:   it.Quantity,
				LineTotal:  it.LineTotal,
			}
		}),
	}, nil
}
