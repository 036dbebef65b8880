package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: apperr.Validation("bad %s", "input"), want: http.StatusBadRequest},
		{name: "not found", err: apperr.NotFound("order", "x"), want: http.StatusNotFound},
		{name: "forbidden", err: apperr.Forbidden("orders belong to another user"), want: http.StatusForbidden},
		{name: "in progress", err: apperr.RequestInProgress("checkout-1"), want: http.StatusConflict},
		{name: "insufficient stock", err: apperr.InsufficientStock("SKU-1", 5, 2), want: http.StatusConflict},
		{name: "order state", err: apperr.InvalidOrderState("o", "CONFIRMED", "PENDING_PAYMENT", nil), want: http.StatusConflict},
		{name: "payment failed", err: apperr.PaymentFailed("p", "Card declined"), want: http.StatusPaymentRequired},
		{name: "cart down", err: apperr.CartUnavailable(errors.New("timeout")), want: http.StatusServiceUnavailable},
		{name: "wrapped", err: fmt.Errorf("svc.Create: %w", apperr.DuplicateReservation("o")), want: http.StatusConflict},
		{name: "plain error", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.HTTPStatus(tt.err))
		})
	}
}

func TestInsufficientStockDetails(t *testing.T) {
	err := fmt.Errorf("reserve: %w", apperr.InsufficientStock("SKU-1", 5, 2))

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInsufficientStock, e.Code)
	assert.Equal(t, "SKU-1", e.Details["sku"])
	assert.Equal(t, 5, e.Details["requested"])
	assert.Equal(t, 2, e.Details["available"])
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("capture: %w", apperr.VersionConflict("payment", "p1"))

	assert.True(t, errors.Is(err, apperr.VersionConflict("payment", "other")))
	assert.False(t, errors.Is(err, apperr.NotFound("payment", "p1")))
	assert.True(t, apperr.IsRetryable(err))
	assert.True(t, apperr.HasCode(err, apperr.CodeVersionConflict))
	assert.False(t, apperr.HasCode(nil, apperr.CodeVersionConflict))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := apperr.UserServiceUnavailable(errors.New("dial tcp: refused"))

	assert.Equal(t, "user service unavailable: dial tcp: refused", err.Error())
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(errors.New("x")))
}

func TestRequestInProgressIsRetryable(t *testing.T) {
	err := apperr.RequestInProgress("checkout-1")

	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, "checkout-1", err.Details["idempotency_key"])
	assert.False(t, apperr.IsRetryable(apperr.Forbidden("nope")))
}
