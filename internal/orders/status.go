package orders

import (
	"slices"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/samber/lo"
)

type Status string

const (
	StatusPendingPayment    Status = "PENDING_PAYMENT"
	StatusPaymentAuthorized Status = "PAYMENT_AUTHORIZED"
	StatusPaymentFailed     Status = "PAYMENT_FAILED"
	StatusInventoryReserved Status = "INVENTORY_RESERVED"
	StatusConfirmed         Status = "CONFIRMED"
	StatusShipped           Status = "SHIPPED"
	StatusDelivered         Status = "DELIVERED"
	StatusCancelled         Status = "CANCELLED"
	StatusRefunded          Status = "REFUNDED"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment:    {StatusPaymentAuthorized: true, StatusPaymentFailed: true, StatusCancelled: true},
	StatusPaymentAuthorized: {StatusInventoryReserved: true, StatusCancelled: true},
	StatusPaymentFailed:     {StatusCancelled: true},
	StatusInventoryReserved: {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:         {StatusShipped: true, StatusCancelled: true},
	StatusShipped:           {StatusDelivered: true, StatusRefunded: true},
	StatusDelivered:         {StatusRefunded: true},
	StatusCancelled:         {},
	StatusRefunded:          {},
}

func IsTransitionAllowed(from, to Status) bool {
	return validNext[from][to]
}

// AllowedTransitions returns the statuses reachable from s in one step,
// sorted.
func AllowedTransitions(s Status) []Status {
	out := lo.Keys(validNext[s])
	slices.Sort(out)
	return out
}

func (s Status) IsTerminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", apperr.Validation("unknown order status %q", s)
	}
	return st, nil
}

// Transition moves o to target, or returns INVALID_ORDER_STATE leaving o
// untouched.
func Transition(o *Order, target Status) error {
	if !IsTransitionAllowed(o.Status, target) {
		allowed := lo.Map(AllowedTransitions(o.Status), func(s Status, _ int) string { return string(s) })
		return apperr.InvalidOrderState(o.ID.String(), string(o.Status), string(target), allowed)
	}
	o.Status = target
	return nil
}
