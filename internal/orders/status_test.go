package orders

import (
	"testing"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	t.Run("happy chain: ok", func(t *testing.T) {
		o := &Order{ID: uuid.New(), Status: StatusPendingPayment}
		for _, next := range []Status{StatusPaymentAuthorized, StatusInventoryReserved, StatusConfirmed, StatusShipped, StatusDelivered, StatusRefunded} {
			require.NoError(t, Transition(o, next))
			assert.Equal(t, next, o.Status)
		}
		assert.True(t, o.Status.IsTerminal())
	})

	t.Run("confirmed back to pending: fail", func(t *testing.T) {
		o := &Order{ID: uuid.New(), Status: StatusConfirmed}
		err := Transition(o, StatusPendingPayment)
		require.Error(t, err)
		assert.Equal(t, StatusConfirmed, o.Status)

		ae, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.CodeInvalidOrderState, ae.Code)
		assert.Equal(t, string(StatusConfirmed), ae.Details["current"])
		assert.Equal(t, string(StatusPendingPayment), ae.Details["requested"])
		assert.Equal(t, []string{string(StatusCancelled), string(StatusShipped)}, ae.Details["allowed"])
	})

	t.Run("terminal states: fail", func(t *testing.T) {
		for _, s := range []Status{StatusCancelled, StatusRefunded} {
			o := &Order{ID: uuid.New(), Status: s}
			assert.Error(t, Transition(o, StatusConfirmed), s)
			assert.Empty(t, AllowedTransitions(s))
		}
	})
}

func TestIsTransitionAllowed(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingPayment, StatusPaymentFailed, true},
		{StatusPaymentFailed, StatusCancelled, true},
		{StatusPaymentFailed, StatusPaymentAuthorized, false},
		{StatusPaymentAuthorized, StatusConfirmed, false},
		{StatusShipped, StatusCancelled, false},
		{StatusShipped, StatusRefunded, true},
		{StatusDelivered, StatusRefunded, true},
		{StatusCancelled, StatusPendingPayment, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransitionAllowed(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("SHIPPED")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, s)

	_, err = ParseStatus("shipped")
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestCanBeCancelled(t *testing.T) {
	for s := range validNext {
		want := s == StatusPendingPayment || s == StatusPaymentAuthorized || s == StatusInventoryReserved || s == StatusConfirmed
		assert.Equal(t, want, Order{Status: s}.CanBeCancelled(), s)
	}
}
