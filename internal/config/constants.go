package config

import "time"

const (
	// Outbound provider calls
	ProviderRequestTimeout = 30 * time.Second

	// Inbound webhook body cap
	MaxWebhookBodyBytes = 1 << 20

	// Success notification debounce
	DefaultNotifyDebounce = 10 * time.Minute

	// Telegram delivery timeout for a single notification
	NotificationTimeout = 10 * time.Second

	// Monitoring defaults
	DeclineWindow          = 60 * time.Minute
	DeclineRatioThreshold  = 0.5
	BurstWindow            = 5 * time.Minute
	BurstThreshold         = 3
	MismatchWindow         = 60 * time.Minute
	MismatchCountThreshold = 1

	// Recurring schedule recorded on the first regular payment
	RecurringPeriod      = 365 * 24 * time.Hour
	DefaultRecurringMode = "monthly"

	// HTTP server
	ReadHeaderTimeout = 10 * time.Second
	ShutdownTimeout   = 15 * time.Second
)

// DefaultCurrency is used for plans created without an explicit currency.
const DefaultCurrency = "UAH"
