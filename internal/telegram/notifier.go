package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/subhook/internal/domain"
)

type MerchantSource interface {
	GetMerchant(ctx context.Context, merchantID int64) (*domain.Merchant, error)
}

// Notifier sends payer messages through the bot that belongs to the
// merchant. Bot clients are cached per token.
type Notifier struct {
	merchants MerchantSource
	opts      []bot.Option

	mu   sync.Mutex
	bots map[string]*bot.Bot
}

func NewNotifier(merchants MerchantSource, opts ...bot.Option) *Notifier {
	return &Notifier{
		merchants: merchants,
		opts:      append([]bot.Option{bot.WithSkipGetMe()}, opts...),
		bots:      make(map[string]*bot.Bot),
	}
}

func (n *Notifier) SendMessage(ctx context.Context, merchantID, payerID int64, text string) error {
	m, err := n.merchants.GetMerchant(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("get merchant %d: %w", merchantID, err)
	}
	if m.BotToken == "" {
		return fmt.Errorf("merchant %d has no bot token", merchantID)
	}

	b, err := n.botFor(m.BotToken)
	if err != nil {
		return err
	}
	for _, part := range SplitMessage(text, MaxMessageLen) {
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    payerID,
			Text:      part,
			ParseMode: models.ParseModeHTML,
		}); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (n *Notifier) botFor(token string) (*bot.Bot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if b, ok := n.bots[token]; ok {
		return b, nil
	}
	b, err := bot.New(token, n.opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	n.bots[token] = b
	return b, nil
}
