package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/subhook/internal/domain"
)

func TestManualService_ProcessManualPayment(t *testing.T) {
	store := seededStore(t)
	notifier := &recordingNotifier{}
	events := &recordingEvents{}
	svc := NewManualService(store, notifier, events, fixedClock)

	sub, err := svc.ProcessManualPayment(t.Context(), testRef+";", false)
	require.NoError(t, err)

	assert.True(t, sub.ExpiresAt.Equal(testNow.AddDate(0, 0, 30)))
	inv := store.invoice(testRef)
	assert.Equal(t, domain.InvoiceStatusApproved, inv.Status)
	require.NotNil(t, inv.PaidAt)

	payer := store.verifiedPayer(testPayerID, testMerchantID)
	require.NotNil(t, payer)
	assert.Equal(t, "MANUAL_****", payer.CardMasked)
	assert.Equal(t, "MANUAL", payer.PaymentSystem)
	assert.Equal(t, "Manual Payment", payer.IssuerBank)

	assert.Equal(t, []bool{false}, events.manual)
	assert.Equal(t, 1, notifier.count())

	_, err = svc.ProcessManualPayment(t.Context(), testRef, false)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
	assert.True(t, store.subscription(testPayerID, testMerchantID).ExpiresAt.Equal(sub.ExpiresAt))
}

func TestManualService_Perpetual(t *testing.T) {
	store := seededStore(t)
	inv := pendingInvoice("ORDER_1758606400NEW_42_2")
	inv.Status = domain.InvoiceStatusNew
	store.putInvoice(inv)
	svc := NewManualService(store, nil, nil, fixedClock)

	sub, err := svc.ProcessManualPayment(t.Context(), inv.OrderReference, true)
	require.NoError(t, err)

	assert.True(t, sub.ExpiresAt.Equal(domain.PerpetualExpiry))
	assert.Equal(t, domain.InvoiceStatusApproved, store.invoice(inv.OrderReference).Status)
}

func TestManualService_RejectsDeclinedAndMissing(t *testing.T) {
	store := seededStore(t)
	declined := pendingInvoice("ORDER_1758606500DEC_42_2")
	declined.Status = domain.InvoiceStatusDeclined
	store.putInvoice(declined)
	svc := NewManualService(store, nil, nil, fixedClock)

	_, err := svc.ProcessManualPayment(t.Context(), declined.OrderReference, false)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)

	_, err = svc.ProcessManualPayment(t.Context(), "ORDER_0000000000AAA_1_1", false)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
	assert.Zero(t, store.subscriptionCount())
}
