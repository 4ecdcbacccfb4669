package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/subhook/internal/config"
	"github.com/set-night/subhook/internal/domain"
)

type LogType string

const (
	LogTypeError          LogType = "error"
	LogTypePaymentSuccess LogType = "paymentSuccess"
	LogTypePaymentReject  LogType = "paymentReject"
	LogTypeManualPayment  LogType = "manualPayment"
)

// PaymentLogger posts payment events to forum topics of the ops chat.
type PaymentLogger struct {
	bot *bot.Bot
	cfg *config.Config
	now func() time.Time
}

func NewPaymentLogger(b *bot.Bot, cfg *config.Config) *PaymentLogger {
	return &PaymentLogger{bot: b, cfg: cfg, now: time.Now}
}

func (l *PaymentLogger) Log(logType LogType, message string) {
	if l.cfg.LogTelegramChatID == 0 {
		return
	}
	topicID := l.getTopicID(logType)
	if topicID == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.NotificationTimeout)
	defer cancel()

	_, err := l.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.cfg.LogTelegramChatID,
		Text:            truncate(message, MaxMessageLen),
		ParseMode:       models.ParseModeHTML,
		MessageThreadID: topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram log", "type", logType, "error", err)
	}
}

func (l *PaymentLogger) PaymentApproved(inv *domain.Invoice, sub *domain.Subscription) {
	msg := fmt.Sprintf("✅ <b>Payment approved</b>\n\n<b>Ref:</b> <code>%s</code>\n<b>Payer:</b> <code>%d</code>\n<b>Merchant:</b> <code>%d</code>\n<b>Amount:</b> %s %s",
		html.EscapeString(inv.OrderReference), inv.PayerID, inv.MerchantID,
		inv.Amount.StringFixed(2), html.EscapeString(inv.Currency))
	if inv.Audit.CardPan != "" {
		msg += fmt.Sprintf("\n<b>Card:</b> %s %s", html.EscapeString(inv.Audit.CardPan), html.EscapeString(inv.Audit.IssuerCountry))
	}
	if sub != nil {
		msg += "\n<b>Expires:</b> " + sub.ExpiresAt.Format("2006-01-02 15:04")
	}
	l.Log(LogTypePaymentSuccess, msg)
}

func (l *PaymentLogger) PaymentRejected(orderReference string, reason error) {
	msg := fmt.Sprintf("⚠️ <b>Payment rejected</b>\n\n<b>Ref:</b> <code>%s</code>\n<b>Reason:</b> %s",
		html.EscapeString(orderReference), html.EscapeString(reason.Error()))
	l.Log(LogTypePaymentReject, msg)
}

func (l *PaymentLogger) ManualPayment(inv *domain.Invoice, sub *domain.Subscription, perpetual bool) {
	kind := "timed"
	if perpetual {
		kind = "perpetual"
	}
	msg := fmt.Sprintf("🛠 <b>Manual payment</b> (%s)\n\n<b>Ref:</b> <code>%s</code>\n<b>Payer:</b> <code>%d</code>\n<b>Merchant:</b> <code>%d</code>\n<b>Expires:</b> %s",
		kind, html.EscapeString(inv.OrderReference), inv.PayerID, inv.MerchantID,
		sub.ExpiresAt.Format("2006-01-02"))
	l.Log(LogTypeManualPayment, msg)
}

func (l *PaymentLogger) Error(err error, context string) {
	msg := fmt.Sprintf("❌ <b>Error</b>\n\n<b>Context:</b> %s\n<b>Error:</b> <code>%s</code>\n<b>Time:</b> %s",
		html.EscapeString(context), html.EscapeString(err.Error()), l.now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeError, msg)
}

func (l *PaymentLogger) getTopicID(logType LogType) int {
	switch logType {
	case LogTypeError:
		return l.cfg.LogTopicError
	case LogTypePaymentSuccess:
		return l.cfg.LogTopicPaymentSuccess
	case LogTypePaymentReject:
		return l.cfg.LogTopicPaymentReject
	case LogTypeManualPayment:
		return l.cfg.LogTopicManualPayment
	default:
		return 0
	}
}
