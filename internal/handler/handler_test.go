package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/middleware"
	"github.com/set-night/subhook/internal/service"
	"github.com/set-night/subhook/internal/wayforpay"
)

type stubReconciler struct {
	body []byte
	res  *service.Result
	err  error
}

func (s *stubReconciler) HandleWebhook(_ context.Context, body []byte) (*service.Result, error) {
	s.body = body
	return s.res, s.err
}

type stubCheckout struct {
	req    service.CheckoutRequest
	co     *service.Checkout
	err    error
	status domain.InvoiceStatus
	stErr  error
}

func (s *stubCheckout) CreateInvoice(_ context.Context, req service.CheckoutRequest) (*service.Checkout, error) {
	s.req = req
	return s.co, s.err
}

func (s *stubCheckout) InvoiceStatus(context.Context, string) (domain.InvoiceStatus, error) {
	return s.status, s.stErr
}

type stubMonitor struct {
	window     time.Duration
	merchantID *int64
	threshold  int
}

func (s *stubMonitor) DeclineStats(_ context.Context, window time.Duration, merchantID *int64) (domain.DeclineStats, error) {
	s.window, s.merchantID = window, merchantID
	return domain.DeclineStats{Total: 4, Declined: 3, Ratio: 0.75}, nil
}

func (s *stubMonitor) SuccessBursts(_ context.Context, window time.Duration, threshold int, _ *int64) ([]domain.SuccessBurst, error) {
	s.window, s.threshold = window, threshold
	return []domain.SuccessBurst{{MerchantID: 7, PayerID: 42, Count: 5}}, nil
}

func (s *stubMonitor) AmountCurrencyMismatches(context.Context, time.Duration, *int64) ([]domain.AmountCurrencyMismatch, error) {
	amt := decimal.NewFromInt(50)
	return []domain.AmountCurrencyMismatch{{
		InvoiceID: 1, OrderReference: "ref", InvoiceAmount: decimal.NewFromInt(100),
		PayloadAmount: &amt, InvoiceCurrency: "UAH", PayloadCurrency: "UAH",
	}}, nil
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func newTestRouter(deps Deps) http.Handler {
	if deps.Reconciler == nil {
		deps.Reconciler = &stubReconciler{}
	}
	if deps.Checkout == nil {
		deps.Checkout = &stubCheckout{}
	}
	if deps.Monitor == nil {
		deps.Monitor = &stubMonitor{}
	}
	if deps.DB == nil {
		deps.DB = stubPinger{}
	}
	return New(deps).Register()
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.RemoteAddr = "203.0.113.9:4000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestWebhook_ReturnsAck(t *testing.T) {
	ack := wayforpay.Ack{OrderReference: "ORDER_1", Status: "accept", Time: 1700000000, Signature: "abc"}
	rec := &stubReconciler{res: &service.Result{Ack: ack, Reason: domain.ErrAmountMismatch}}
	h := newTestRouter(Deps{Reconciler: rec})

	w := do(h, http.MethodPost, "/api/payments/wayforpay/webhook/", `{"orderReference":"ORDER_1"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orderReference":"ORDER_1","status":"accept","time":1700000000,"signature":"abc"}`, w.Body.String())
	assert.Equal(t, `{"orderReference":"ORDER_1"}`, string(rec.body))
}

func TestWebhook_PersistenceFaultIs500(t *testing.T) {
	rec := &stubReconciler{err: fmt.Errorf("%w: conn reset", domain.ErrPersistenceFault)}
	h := newTestRouter(Deps{Reconciler: rec})

	w := do(h, http.MethodPost, "/api/payments/wayforpay/webhook/", `{}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhook_RateLimited(t *testing.T) {
	rec := &stubReconciler{res: &service.Result{Ack: wayforpay.Ack{Status: "accept"}}}
	h := newTestRouter(Deps{Reconciler: rec, Limiter: middleware.NewMemoryLimiter(1, time.Minute)})

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/payments/wayforpay/webhook/", `{}`).Code)
	w := do(h, http.MethodPost, "/api/payments/wayforpay/webhook/", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"rate_limited"}`, w.Body.String())
}

func TestCreateInvoice(t *testing.T) {
	co := &stubCheckout{co: &service.Checkout{
		OrderReference: "ORDER_1758606042ABC_42_2",
		InvoiceURL:     "https://secure.example.com/i/1",
		Amount:         decimal.NewFromInt(100),
		Currency:       "UAH",
	}}
	h := newTestRouter(Deps{Checkout: co})

	w := do(h, http.MethodPost, "/api/payments/wayforpay/invoice/", `{"bot_id":7,"user_id":42,"plan_id":2}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp createInvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "https://secure.example.com/i/1", resp.InvoiceURL)
	assert.Equal(t, "100.00", resp.Amount)
	assert.Equal(t, service.CheckoutRequest{MerchantID: 7, PayerID: 42, PlanID: 2}, co.req)
}

func TestCreateInvoice_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"missing plan", `{"bot_id":7,"user_id":42}`, nil, http.StatusBadRequest},
		{"disabled plan", `{"bot_id":7,"user_id":42,"plan_id":2}`, fmt.Errorf("plan 2: %w", domain.ErrPlanDisabled), http.StatusBadRequest},
		{"unknown merchant", `{"bot_id":7,"user_id":42,"plan_id":2}`, domain.ErrMerchantNotFound, http.StatusUnprocessableEntity},
		{"provider failure", `{"bot_id":7,"user_id":42,"plan_id":2}`, &wayforpay.ProviderError{StatusCode: 502, Reason: "Bad Gateway"}, http.StatusUnprocessableEntity},
		{"store failure", `{"bot_id":7,"user_id":42,"plan_id":2}`, fmt.Errorf("%w: x", domain.ErrPersistenceFault), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(Deps{Checkout: &stubCheckout{err: tt.err}})
			w := do(h, http.MethodPost, "/api/payments/wayforpay/invoice/", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), `"ok":false`)
		})
	}
}

func TestReturnPage(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		status domain.InvoiceStatus
		err    error
		want   string
	}{
		{"approved", "?orderReference=r1", domain.InvoiceStatusApproved, nil, "success"},
		{"pending", "?orderReference=r1", domain.InvoiceStatusPending, nil, "pending"},
		{"declined is not success", "?orderReference=r1", domain.InvoiceStatusDeclined, nil, "pending"},
		{"unknown", "?orderReference=r1", "", domain.ErrInvoiceNotFound, "error"},
		{"missing", "", "", nil, "error"},
		{"store failure", "?orderReference=r1", "", errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(Deps{Checkout: &stubCheckout{status: tt.status, stErr: tt.err}})
			w := do(h, http.MethodGet, "/api/payments/wayforpay/return/"+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code)
			var resp returnResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	mon := &stubMonitor{}
	h := newTestRouter(Deps{Monitor: mon})

	w := do(h, http.MethodGet, "/internal/monitoring/declines?window=30m&merchant_id=7&threshold=0.7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":4,"declined":3,"ratio":0.75,"threshold":0.7,"alert":true}`, w.Body.String())
	assert.Equal(t, 30*time.Minute, mon.window)
	require.NotNil(t, mon.merchantID)
	assert.Equal(t, int64(7), *mon.merchantID)

	w = do(h, http.MethodGet, "/internal/monitoring/bursts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"merchant_id":7,"payer_id":42,"count":5}]`, w.Body.String())
	assert.Equal(t, 3, mon.threshold)

	w = do(h, http.MethodGet, "/internal/monitoring/mismatches", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"payload_amount":"50"`)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/internal/monitoring/declines?window=soon", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/internal/monitoring/bursts?merchant_id=x", "").Code)
}

func TestMonitoringToken(t *testing.T) {
	h := newTestRouter(Deps{MonitoringToken: "t0ken"})

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/internal/monitoring/declines", "").Code)

	r := httptest.NewRequest(http.MethodGet, "/internal/monitoring/declines", nil)
	r.Header.Set("Authorization", "Bearer t0ken")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	assert.Equal(t, http.StatusOK, do(newTestRouter(Deps{}), http.MethodGet, "/healthz", "").Code)
	down := newTestRouter(Deps{DB: stubPinger{err: errors.New("dial tcp: refused")}})
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodGet, "/healthz", "").Code)
}
