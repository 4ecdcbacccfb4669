package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/wayforpay"
)

const (
	testMerchantID = int64(7)
	testAccount    = "test_merch"
	testSecret     = "s3cret"
	testPayerID    = int64(42)
	testPlanID     = int64(2)
	testRef        = "ORDER_1758606042ABC_42_2"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func intPtr(v int) *int { return &v }

// seededStore returns a store with one merchant, one 30-day plan priced 100
// UAH and one PENDING invoice for it.
func seededStore(t *testing.T) *memStore {
	t.Helper()
	s := newMemStore()
	s.putMerchant(domain.Merchant{
		MerchantID:      testMerchantID,
		Account:         testAccount,
		SecretKey:       testSecret,
		DomainName:      "pay.example.com",
		APIURL:          "https://api.example.com/api",
		VerifySignature: true,
	})
	s.putPlan(domain.Plan{
		ID:           testPlanID,
		MerchantID:   testMerchantID,
		Name:         "Premium",
		Price:        decimal.NewFromInt(100),
		Currency:     "UAH",
		DurationDays: 30,
		Enabled:      true,
	})
	s.putInvoice(pendingInvoice(testRef))
	return s
}

func pendingInvoice(ref string) domain.Invoice {
	return domain.Invoice{
		OrderReference:   ref,
		PayerID:          testPayerID,
		PlanID:           testPlanID,
		MerchantID:       testMerchantID,
		Amount:           decimal.NewFromInt(100),
		Currency:         "UAH",
		Status:           domain.InvoiceStatusPending,
		PlanDurationDays: intPtr(30),
		CreatedAt:        testNow.Add(-time.Hour),
	}
}

func approvedFields(ref string) map[string]any {
	return map[string]any{
		"merchantAccount":   testAccount,
		"orderReference":    ref,
		"amount":            json.Number("100"),
		"currency":          "UAH",
		"authCode":          "541963",
		"cardPan":           "41****8217",
		"transactionStatus": "Approved",
		"reasonCode":        json.Number("1100"),
		"reason":            "Ok",
		"processingDate":    json.Number(strconv.FormatInt(testNow.Unix(), 10)),
		"transactionId":     "tx-" + ref,
		"recToken":          "tok-1",
		"paymentSystem":     "visa",
		"issuerBankName":    "PrivatBank",
		"issuerBankCountry": "Ukraine",
		"phone":             "380501234567",
		"fee":               json.Number("2.5"),
	}
}

func withStatus(fields map[string]any, status string) map[string]any {
	fields["transactionStatus"] = status
	return fields
}

// signedBody signs fields with secret the way the provider does and returns
// the JSON body.
func signedBody(t *testing.T, secret string, fields map[string]any) []byte {
	t.Helper()
	delete(fields, "merchantSignature")
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	n, err := wayforpay.ParseNotification(body)
	require.NoError(t, err)
	fields["merchantSignature"] = wayforpay.NewSigner(secret, wayforpay.ExpandAll).
		Sign(n.Fields(), wayforpay.ResponseSignatureKeys)
	body, err = json.Marshal(fields)
	require.NoError(t, err)
	return body
}

type sentMessage struct {
	merchantID int64
	payerID    int64
	text       string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) SendMessage(_ context.Context, merchantID, payerID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{merchantID: merchantID, payerID: payerID, text: text})
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingEvents struct {
	mu       sync.Mutex
	approved []string
	rejected []error
	manual   []bool
	errors   []error
}

func (e *recordingEvents) PaymentApproved(inv *domain.Invoice, _ *domain.Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approved = append(e.approved, inv.OrderReference)
}

func (e *recordingEvents) PaymentRejected(_ string, reason error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejected = append(e.rejected, reason)
}

func (e *recordingEvents) ManualPayment(_ *domain.Invoice, _ *domain.Subscription, perpetual bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.manual = append(e.manual, perpetual)
}

func (e *recordingEvents) Error(err error, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, err)
}
