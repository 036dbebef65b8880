package httpx_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/apperr"
	"github.com/ariefcatur/order-fulfillment/internal/httpx"
	"github.com/ariefcatur/order-fulfillment/internal/payments"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/text/currency"
)

func newPaymentsServer(t *testing.T, rates payments.Rates) (*httptest.Server, *payments.Ledger) {
	t.Helper()
	log := zaptest.NewLogger(t)
	ledger := payments.NewLedger(payments.NewMemoryStore(), payments.NewSimulator(rates, 0), time.Second, log)
	r := httpx.NewRouter(log)
	(&httpx.PaymentsHandler{Svc: ledger, Log: log}).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, ledger
}

var approveAll = payments.Rates{Authorize: 1, Capture: 1, Refund: 1, Void: 1}

func authorize(t *testing.T, l *payments.Ledger, userID uuid.UUID, amount string) payments.Payment {
	t.Helper()
	p, err := l.Authorize(context.Background(), payments.AuthorizeRequest{
		OrderID:        uuid.New(),
		UserID:         userID,
		Amount:         decimal.RequireFromString(amount),
		Currency:       currency.USD,
		IdempotencyKey: "auth-" + uuid.NewString(),
	})
	require.NoError(t, err)
	require.Equal(t, payments.StatusAuthorized, p.Status)
	return p
}

func errCode(t *testing.T, body map[string]any) any {
	t.Helper()
	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "body %v", body)
	return errBody["code"]
}

func TestPaymentCaptureAndRefund(t *testing.T) {
	srv, ledger := newPaymentsServer(t, approveAll)
	user := uuid.New()
	p := authorize(t, ledger, user, "100")
	base := srv.URL + "/payments/" + p.ID.String()

	resp, body := do(t, http.MethodPost, base+"/capture", `{"amount":"60"}`, map[string]string{httpx.HeaderIdempotencyKey: "cap-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "AUTHORIZED", body["status"])
	assert.Equal(t, "60.00", body["captured_amount"])

	// Same key again: the stored result comes back and nothing is captured twice.
	resp, body = do(t, http.MethodPost, base+"/capture", `{"amount":"60"}`, map[string]string{httpx.HeaderIdempotencyKey: "cap-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "60.00", body["captured_amount"])

	resp, body = do(t, http.MethodPost, base+"/capture", `{"amount":"50"}`, map[string]string{httpx.HeaderIdempotencyKey: "cap-2"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, apperr.CodeInvalidPaymentState, errCode(t, body))

	resp, body = do(t, http.MethodPost, base+"/capture", `{"amount":"40"}`, map[string]string{httpx.HeaderIdempotencyKey: "cap-3"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CAPTURED", body["status"])

	resp, body = do(t, http.MethodPost, base+"/refund", `{"amount":"25.5"}`, map[string]string{httpx.HeaderIdempotencyKey: "ref-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CAPTURED", body["status"])
	assert.Equal(t, "25.50", body["refunded_amount"])

	resp, body = do(t, http.MethodPost, base+"/void", "", map[string]string{httpx.HeaderIdempotencyKey: "void-1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, apperr.CodeInvalidPaymentState, errCode(t, body))

	req, err := http.NewRequest(http.MethodGet, base+"/transactions", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var txs []map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&txs))
	require.Len(t, txs, 4)
	types := make([]any, 0, len(txs))
	for _, tx := range txs {
		types = append(types, tx["type"])
	}
	assert.ElementsMatch(t, []any{"AUTHORIZE", "CAPTURE", "CAPTURE", "REFUND"}, types)
}

func TestPaymentVoidAndLookup(t *testing.T) {
	srv, ledger := newPaymentsServer(t, approveAll)
	user := uuid.New()
	p := authorize(t, ledger, user, "42")

	resp, body := do(t, http.MethodPost, srv.URL+"/payments/"+p.ID.String()+"/void", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "VOIDED", body["status"])

	resp, body = do(t, http.MethodGet, srv.URL+"/payments/order/"+p.OrderID.String(), "", map[string]string{httpx.HeaderUserID: user.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, p.ID.String(), body["id"])
	assert.Equal(t, "42.00", body["amount"])
	assert.Equal(t, "USD", body["currency"])

	resp, body = do(t, http.MethodGet, srv.URL+"/payments/"+p.ID.String(), "", map[string]string{httpx.HeaderUserID: uuid.NewString()})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apperr.CodeForbidden, errCode(t, body))

	resp, _ = do(t, http.MethodGet, srv.URL+"/payments/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/payments/order/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPaymentRequestErrors(t *testing.T) {
	srv, ledger := newPaymentsServer(t, payments.Rates{Authorize: 1, Capture: 0})
	p := authorize(t, ledger, uuid.New(), "10")
	base := srv.URL + "/payments/" + p.ID.String()

	tests := []struct {
		name   string
		url    string
		body   string
		status int
		code   string
	}{
		{name: "bad amount: fail", url: base + "/capture", body: `{"amount":"ten"}`, status: http.StatusBadRequest, code: apperr.CodeValidation},
		{name: "missing amount: fail", url: base + "/capture", body: `{}`, status: http.StatusBadRequest, code: apperr.CodeValidation},
		{name: "bad id: fail", url: srv.URL + "/payments/nope/capture", body: `{"amount":"1"}`, status: http.StatusBadRequest, code: apperr.CodeValidation},
		{name: "refund before capture: fail", url: base + "/refund", body: `{"amount":"1"}`, status: http.StatusConflict, code: apperr.CodeInvalidPaymentState},
		{name: "capture declined: fail", url: base + "/capture", body: `{"amount":"5"}`, status: http.StatusPaymentRequired, code: apperr.CodePaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, tt.url, tt.body, nil)
			require.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errCode(t, body))
		})
	}
}
