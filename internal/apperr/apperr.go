// Package apperr holds the error taxonomy shared by the ledgers, the
// orchestrator and the HTTP transport.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindForbidden   Kind = "forbidden"
	KindConflict    Kind = "conflict"
	KindState       Kind = "state"
	KindCapacity    Kind = "capacity"
	KindUnavailable Kind = "unavailable"
	KindPayment     Kind = "payment"
	KindInternal    Kind = "internal"
)

const (
	CodeValidation              = "VALIDATION_ERROR"
	CodeNotFound                = "NOT_FOUND"
	CodeForbidden               = "FORBIDDEN"
	CodeRequestInProgress       = "REQUEST_IN_PROGRESS"
	CodeInsufficientStock       = "INSUFFICIENT_STOCK"
	CodeInvalidSKU              = "INVALID_SKU"
	CodeDuplicateSKU            = "DUPLICATE_SKU"
	CodeDuplicateReservation    = "DUPLICATE_RESERVATION"
	CodeReservationExpired      = "RESERVATION_EXPIRED"
	CodeInvalidReservationState = "INVALID_RESERVATION_STATE"
	CodeInvalidOrderState       = "INVALID_ORDER_STATE"
	CodeInvalidPaymentState     = "INVALID_PAYMENT_STATE"
	CodeDuplicatePayment        = "DUPLICATE_PAYMENT"
	CodePaymentFailed           = "PAYMENT_FAILED"
	CodeGatewayUnavailable      = "GATEWAY_UNAVAILABLE"
	CodeVersionConflict         = "VERSION_CONFLICT"
	CodeCartUnavailable         = "CART_UNAVAILABLE"
	CodeUserServiceUnavailable  = "USER_SERVICE_UNAVAILABLE"
	CodeInternal                = "INTERNAL_ERROR"
)

// Error is a domain failure with a stable code and the context needed to act on it.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Details   map[string]any
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, CodeValidation, fmt.Sprintf(format, args...))
}

func NotFound(entity, id string) *Error {
	return New(KindNotFound, CodeNotFound, fmt.Sprintf("%s not found: %s", entity, id)).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, CodeForbidden, fmt.Sprintf(format, args...))
}

// RequestInProgress reports that another request holding the same
// idempotency key has not finished yet.
func RequestInProgress(key string) *Error {
	e := New(KindConflict, CodeRequestInProgress, "a request with this idempotency key is still in progress").
		WithDetail("idempotency_key", key)
	e.Retryable = true
	return e
}

func InsufficientStock(sku string, requested, available int) *Error {
	return New(KindCapacity, CodeInsufficientStock,
		fmt.Sprintf("insufficient stock for sku %s: requested %d, available %d", sku, requested, available)).
		WithDetail("sku", sku).
		WithDetail("requested", requested).
		WithDetail("available", available)
}

func InvalidSKU(sku string) *Error {
	return New(KindValidation, CodeInvalidSKU, "unknown sku: "+sku).WithDetail("sku", sku)
}

func DuplicateSKU(sku string) *Error {
	return New(KindConflict, CodeDuplicateSKU, "stock item already exists: "+sku).WithDetail("sku", sku)
}

func DuplicateReservation(orderID string) *Error {
	return New(KindConflict, CodeDuplicateReservation, "reservation already exists for order "+orderID).
		WithDetail("order_id", orderID)
}

func ReservationExpired(reservationID string) *Error {
	return New(KindState, CodeReservationExpired, "reservation expired: "+reservationID).
		WithDetail("reservation_id", reservationID)
}

func InvalidReservationState(reservationID, current, operation string) *Error {
	return New(KindState, CodeInvalidReservationState,
		fmt.Sprintf("cannot %s reservation %s in status %s", operation, reservationID, current)).
		WithDetail("reservation_id", reservationID).
		WithDetail("current", current).
		WithDetail("operation", operation)
}

func InvalidOrderState(orderID, current, requested string, allowed []string) *Error {
	return New(KindState, CodeInvalidOrderState,
		fmt.Sprintf("order %s cannot move from %s to %s (allowed: %s)",
			orderID, current, requested, strings.Join(allowed, ", "))).
		WithDetail("order_id", orderID).
		WithDetail("current", current).
		WithDetail("requested", requested).
		WithDetail("allowed", allowed)
}

func InvalidPaymentState(paymentID, current, operation string) *Error {
	return New(KindState, CodeInvalidPaymentState,
		fmt.Sprintf("cannot %s payment %s in status %s", operation, paymentID, current)).
		WithDetail("payment_id", paymentID).
		WithDetail("current", current).
		WithDetail("operation", operation)
}

func DuplicatePayment(orderID string) *Error {
	return New(KindConflict, CodeDuplicatePayment, "payment already exists for order "+orderID).
		WithDetail("order_id", orderID)
}

func PaymentFailed(paymentID, reason string) *Error {
	return New(KindPayment, CodePaymentFailed, "payment failed: "+reason).
		WithDetail("payment_id", paymentID).
		WithDetail("reason", reason)
}

func GatewayUnavailable(err error) *Error {
	e := Wrap(err, KindUnavailable, CodeGatewayUnavailable, "payment gateway unavailable")
	e.Retryable = true
	return e
}

func VersionConflict(entity, id string) *Error {
	e := New(KindConflict, CodeVersionConflict, fmt.Sprintf("%s %s was modified concurrently", entity, id)).
		WithDetail("entity", entity).
		WithDetail("id", id)
	e.Retryable = true
	return e
}

func CartUnavailable(err error) *Error {
	e := Wrap(err, KindUnavailable, CodeCartUnavailable, "cart service unavailable")
	e.Retryable = true
	return e
}

func UserServiceUnavailable(err error) *Error {
	e := Wrap(err, KindUnavailable, CodeUserServiceUnavailable, "user service unavailable")
	e.Retryable = true
	return e
}

func Internal(err error, message string) *Error {
	return Wrap(err, KindInternal, CodeInternal, message)
}

// As returns the first *Error in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return false
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict, KindState, KindCapacity:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindPayment:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
