package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/set-night/subhook/internal/domain"
)

// Notifier delivers a message to a payer through the merchant's bot.
type Notifier interface {
	SendMessage(ctx context.Context, merchantID, payerID int64, text string) error
}

// EventLog receives operator-facing payment events. Implementations must not
// block the caller for long and must swallow their own failures.
type EventLog interface {
	PaymentApproved(inv *domain.Invoice, sub *domain.Subscription)
	PaymentRejected(orderReference string, reason error)
	ManualPayment(inv *domain.Invoice, sub *domain.Subscription, perpetual bool)
	Error(err error, context string)
}

type nopEventLog struct{}

func (nopEventLog) PaymentApproved(*domain.Invoice, *domain.Subscription) {}
func (nopEventLog) PaymentRejected(string, error) {}
func (nopEventLog) ManualPayment(*domain.Invoice, *domain.Subscription, bool) {}
func (nopEventLog) Error(error, string) {}

// PaymentSuccessText is the HTML message sent after a confirmed payment.
func PaymentSuccessText(planName string, amount decimal.Decimal, currency string, expiresAt time.Time) string {
	expires := ""
	if !expiresAt.IsZero() {
		if expiresAt.Equal(domain.PerpetualExpiry) {
			expires = "\n📅 Активна: <b>бессрочно</b>"
		} else {
			expires = fmt.Sprintf("\n📅 Активна до: <b>%s</b>", expiresAt.Format("02.01.2006"))
		}
	}
	return fmt.Sprintf(
		"✅ <b>Платёж подтверждён!</b>\n\n"+
			"💳 Оплачено: <b>%s %s</b>\n"+
			"📦 План: <b>%s</b>\n"+
			"🎯 Подписка активирована/продлена%s",
		amount.StringFixed(2), html.EscapeString(currency), html.EscapeString(planName), expires,
	)
}

type pendingNotice struct {
	merchantID int64
	payerID    int64
	text       string
}

// deliver sends n after the financial transaction committed. Failures are
// logged only.
func deliver(ctx context.Context, notifier Notifier, timeout time.Duration, n *pendingNotice) {
	if notifier == nil || n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := notifier.SendMessage(ctx, n.merchantID, n.payerID, n.text); err != nil {
		slog.Warn("payment notification failed", "merchant_id", n.merchantID, "payer_id", n.payerID, "error", err)
	}
}
