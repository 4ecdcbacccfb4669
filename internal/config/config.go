package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis backs the webhook rate limiter; empty means in-memory windows.
	RedisURL string `env:"REDIS_URL"`

	// WayForPay fallback merchant, used when a notification names an account
	// that has no row in merchant_configs.
	WFPMerchantAccount string `env:"WFP_MERCHANT_ACCOUNT"`
	WFPSecretKey       string `env:"WFP_SECRET_KEY"`
	WFPDomainName      string `env:"WFP_DOMAIN_NAME"`
	WFPPayURL          string `env:"WFP_PAY_URL" envDefault:"https://secure.wayforpay.com/pay"`
	WFPAPIURL          string `env:"WFP_API_URL" envDefault:"https://api.wayforpay.com/api"`

	// Webhook security
	VerifySignature     bool   `env:"WFP_VERIFY_SIGNATURE" envDefault:"true"`
	VerifyMerchant      bool   `env:"WFP_VERIFY_MERCHANT" envDefault:"false"`
	SignatureListMode   string `env:"WFP_SIGNATURE_LIST_MODE" envDefault:"all"`
	WebhookTTLSeconds   int    `env:"WFP_WEBHOOK_TTL_SECONDS" envDefault:"86400"`
	RateLimitEnabled    bool   `env:"WFP_RATELIMIT_ENABLED" envDefault:"true"`
	RateLimitWindowSecs int    `env:"WFP_RATELIMIT_WINDOW" envDefault:"10"`
	RateLimitCount      int    `env:"WFP_RATELIMIT_COUNT" envDefault:"20"`

	// Bearer token for /internal/monitoring; empty leaves it open.
	MonitoringToken string `env:"MONITORING_TOKEN"`

	// Notifications
	NotifyDebounceMinutes int `env:"NOTIFY_DEBOUNCE_MINUTES" envDefault:"10"`

	// Telegram ops logging
	LogTelegramBotToken    string `env:"LOG_TELEGRAM_BOT_TOKEN"`
	LogTelegramChatID      int64  `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError          int    `env:"LOG_TOPIC_ERROR"`
	LogTopicPaymentSuccess int    `env:"LOG_TOPIC_PAYMENT_SUCCESS"`
	LogTopicPaymentReject  int    `env:"LOG_TOPIC_PAYMENT_REJECT"`
	LogTopicManualPayment  int    `env:"LOG_TOPIC_MANUAL_PAYMENT"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RateLimitEnabled && (cfg.RateLimitCount <= 0 || cfg.RateLimitWindowSecs <= 0) {
		return nil, fmt.Errorf("parse config: rate limit window and count must be positive")
	}
	return cfg, nil
}

func (c *Config) WebhookTTL() time.Duration {
	if c.WebhookTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.WebhookTTLSeconds) * time.Second
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSecs) * time.Second
}

func (c *Config) NotifyDebounce() time.Duration {
	if c.NotifyDebounceMinutes <= 0 {
		return DefaultNotifyDebounce
	}
	return time.Duration(c.NotifyDebounceMinutes) * time.Minute
}

// SlogLevel maps LOG_LEVEL onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
