package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/set-night/subhook/internal/domain"
)

func TestPaymentSuccessText(t *testing.T) {
	text := PaymentSuccessText("Pro <annual>", decimal.NewFromInt(100), "UAH", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, text, "<b>100.00 UAH</b>")
	assert.Contains(t, text, "Pro &lt;annual&gt;")
	assert.Contains(t, text, "01.04.2026")

	lifetime := PaymentSuccessText("Pro", decimal.NewFromInt(1), "UAH", domain.PerpetualExpiry)
	assert.Contains(t, lifetime, "бессрочно")
}

type ctxCheckingNotifier struct {
	err error
}

func (n *ctxCheckingNotifier) SendMessage(ctx context.Context, _, _ int64, _ string) error {
	n.err = ctx.Err()
	return errors.New("telegram unavailable")
}

func TestDeliver_SurvivesCanceledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	n := &ctxCheckingNotifier{}

	deliver(ctx, n, time.Second, &pendingNotice{merchantID: 1, payerID: 2, text: "hi"})

	assert.NoError(t, n.err)
	deliver(ctx, nil, time.Second, &pendingNotice{})
	deliver(ctx, n, time.Second, nil)
}
