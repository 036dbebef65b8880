package orders

import (
	"github.com/samber/lo"
)

// AggregateType tags every order event in the log.
const AggregateType = "Order"

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaymentFailed = "OrderPaymentFailed"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderConfirmed     = "OrderConfirmed"
	EventOrderCancelled     = "OrderCancelled"
)

func createdPayload(o Order) map[string]any {
	return map[string]any{
		"order_id": o.ID.String(),
		"user_id":  o.UserID.String(),
		"cart_id":  o.CartID.String(),
		"status":   string(o.Status),
		"currency": o.Currency.String(),
		"subtotal": o.Subtotal.StringFixed(2),
		"shipping": o.Shipping.StringFixed(2),
		"total":    o.Total.StringFixed(2),
		"items": lo.Map(o.Items, func(it OrderItem, _ int) map[string]any {
			return map[string]any{
				"sku":        it.SKU,
				"product_id": it.ProductID.String(),
				"quantity":   it.Quantity,
				"unit_price": it.UnitPrice.StringFixed(2),
				"line_total": it.LineTotal.StringFixed(2),
			}
		}),
	}
}

func statusChangedPayload(o Order, from Status) map[string]any {
	return map[string]any{
		"order_id":    o.ID.String(),
		"from_status": string(from),
		"to_status":   string(o.Status),
	}
}

func paymentFailedPayload(o Order, reason string) map[string]any {
	return map[string]any{
		"order_id": o.ID.String(),
		"amount":   o.Total.StringFixed(2),
		"reason":   reason,
	}
}

func confirmedPayload(o Order, reservationID string) map[string]any {
	p := map[string]any{
		"order_id":       o.ID.String(),
		"reservation_id": reservationID,
		"total":          o.Total.StringFixed(2),
	}
	if o.PaymentID != nil {
		p["payment_id"] = o.PaymentID.String()
	}
	return p
}

func cancelledPayload(o Order, from Status, reason string) map[string]any {
	return map[string]any{
		"order_id":    o.ID.String(),
		"from_status": string(from),
		"reason":      reason,
	}
}
