package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/set-night/subhook/internal/domain"
)

func TestDebouncer_ShouldNotify(t *testing.T) {
	store := seededStore(t)
	paid := testNow.Add(-3 * time.Minute)
	prior := pendingInvoice("ORDER_1758606000PRV_42_2")
	prior.Status = domain.InvoiceStatusApproved
	prior.PaidAt = &paid
	store.putInvoice(prior)

	current := pendingInvoice(testRef)
	ctx := t.Context()

	ok, err := NewDebouncer(10*time.Minute, fixedClock).ShouldNotify(ctx, store, &current)
	require.NoError(t, err)
	assert.False(t, ok, "approval three minutes ago is inside the window")

	ok, err = NewDebouncer(2*time.Minute, fixedClock).ShouldNotify(ctx, store, &current)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewDebouncer(0, fixedClock).ShouldNotify(ctx, store, &current)
	require.NoError(t, err)
	assert.True(t, ok)

	other := pendingInvoice("ORDER_1758606000OTH_43_2")
	other.PayerID = 43
	ok, err = NewDebouncer(10*time.Minute, fixedClock).ShouldNotify(ctx, store, &other)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDebouncer_IgnoresCurrentInvoice(t *testing.T) {
	store := seededStore(t)
	paid := testNow
	inv := pendingInvoice("ORDER_1758606300SLF_42_2")
	inv.Status = domain.InvoiceStatusApproved
	inv.PaidAt = &paid
	store.putInvoice(inv)

	ok, err := NewDebouncer(10*time.Minute, fixedClock).ShouldNotify(t.Context(), store, &inv)
	require.NoError(t, err)
	assert.True(t, ok)
}
