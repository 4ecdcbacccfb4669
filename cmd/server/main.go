package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/redis/go-redis/v9"

	subhook "github.com/set-night/subhook"
	"github.com/set-night/subhook/internal/config"
	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/handler"
	"github.com/set-night/subhook/internal/middleware"
	"github.com/set-night/subhook/internal/repository"
	"github.com/set-night/subhook/internal/service"
	"github.com/set-night/subhook/internal/telegram"
	"github.com/set-night/subhook/internal/wayforpay"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	listMode, err := wayforpay.ParseListExpansion(cfg.SignatureListMode)
	if err != nil {
		slog.Error("invalid signature list mode", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, repository.WithPoolSize(cfg.DBMaxConns, cfg.DBMinConns))
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Run migrations
	if err := repository.RunMigrations(cfg.DatabaseURL, subhook.MigrationsFS, "migrations"); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	store := repository.NewStore(pool)

	// Rate limiter: shared through Redis when configured
	var limiter middleware.Limiter
	if cfg.RateLimitEnabled {
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid redis url", "error", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opts)
			defer rdb.Close()
			if err := rdb.Ping(ctx).Err(); err != nil {
				slog.Warn("redis unreachable, rate limiter will fail open", "error", err)
			}
			limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimitCount, cfg.RateLimitWindow())
		} else {
			limiter = middleware.NewMemoryLimiter(cfg.RateLimitCount, cfg.RateLimitWindow())
		}
	}

	// Telegram: payer notifications through each merchant's bot, ops events
	// through a dedicated logging bot
	notifier := telegram.NewNotifier(store)
	var events service.EventLog
	if cfg.LogTelegramBotToken != "" {
		logBot, err := bot.New(cfg.LogTelegramBotToken, bot.WithSkipGetMe())
		if err != nil {
			slog.Error("failed to create log bot", "error", err)
			os.Exit(1)
		}
		events = telegram.NewPaymentLogger(logBot, cfg)
	}

	fallback := fallbackMerchant(cfg)

	// Initialize services
	reconciler := service.NewReconcileService(store, notifier, events, service.ReconcileConfig{
		VerifySignature: cfg.VerifySignature,
		VerifyMerchant:  cfg.VerifyMerchant,
		ListExpansion:   listMode,
		ReplayTTL:       cfg.WebhookTTL(),
		DebounceWindow:  cfg.NotifyDebounce(),
		NotifyTimeout:   config.NotificationTimeout,
		Fallback:        fallback,
	})
	checkout := service.NewCheckoutService(store, fallback, listMode)
	monitoring := service.NewMonitoringService(store, nil)

	h := handler.New(handler.Deps{
		Reconciler:      reconciler,
		Checkout:        checkout,
		Monitor:         monitoring,
		DB:              store,
		Limiter:         limiter,
		MonitoringToken: cfg.MonitoringToken,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Register(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
	}()

	slog.Info("starting http server",
		"addr", cfg.HTTPAddr,
		"verify_signature", cfg.VerifySignature,
		"verify_merchant", cfg.VerifyMerchant,
		"rate_limit", limiter != nil,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown
	slog.Info("server stopped gracefully")
}

func fallbackMerchant(cfg *config.Config) *domain.Merchant {
	if cfg.WFPSecretKey == "" {
		return nil
	}
	return &domain.Merchant{
		Account:         cfg.WFPMerchantAccount,
		SecretKey:       cfg.WFPSecretKey,
		DomainName:      cfg.WFPDomainName,
		PayURL:          cfg.WFPPayURL,
		APIURL:          cfg.WFPAPIURL,
		VerifySignature: true,
	}
}
