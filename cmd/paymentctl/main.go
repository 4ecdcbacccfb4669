package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	subhook "github.com/set-night/subhook"
	"github.com/set-night/subhook/internal/config"
	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/repository"
	"github.com/set-night/subhook/internal/service"
	"github.com/set-night/subhook/internal/telegram"
)

type manualPayer interface {
	ProcessManualPayment(ctx context.Context, orderReference string, perpetual bool) (*domain.Subscription, error)
}

type monitor interface {
	DeclineStats(ctx context.Context, window time.Duration, merchantID *int64) (domain.DeclineStats, error)
	SuccessBursts(ctx context.Context, window time.Duration, threshold int, merchantID *int64) ([]domain.SuccessBurst, error)
	AmountCurrencyMismatches(ctx context.Context, window time.Duration, merchantID *int64) ([]domain.AmountCurrencyMismatch, error)
}

// app is what the commands run against. migrate is nil in tests.
type app struct {
	manual  manualPayer
	monitor monitor
	migrate func() error
	close   func()
}

type appFactory func(ctx context.Context) (*app, error)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, repository.WithPoolSize(cfg.DBMaxConns, cfg.DBMinConns))
	if err != nil {
		return nil, err
	}
	store := repository.NewStore(pool)
	return &app{
		manual:  service.NewManualService(store, telegram.NewNotifier(store), nil, nil),
		monitor: service.NewMonitoringService(store, nil),
		migrate: func() error {
			return repository.RunMigrations(cfg.DatabaseURL, subhook.MigrationsFS, "migrations")
		},
		close: pool.Close,
	}, nil
}

func newRootCmd(factory appFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tools for WayForPay payments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(manualPayCmd(factory))
	rootCmd.AddCommand(monitorCmd(factory))
	rootCmd.AddCommand(migrateCmd(factory))
	return rootCmd
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(cmd *cobra.Command, factory appFactory, fn func(a *app) error) error {
	a, err := factory(cmd.Context())
	if err != nil {
		return err
	}
	if a.close != nil {
		defer a.close()
	}
	return fn(a)
}

func manualPayCmd(factory appFactory) *cobra.Command {
	var perpetual bool
	cmd := &cobra.Command{
		Use:   "manual-pay <order-reference>",
		Short: "Approve an invoice paid outside the provider and grant its subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, factory, func(a *app) error {
				sub, err := a.manual.ProcessManualPayment(cmd.Context(), args[0], perpetual)
				if err != nil {
					return fmt.Errorf("manual payment %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "approved %s: payer %d, merchant %d, expires %s\n",
					args[0], sub.PayerID, sub.MerchantID, sub.ExpiresAt.Format(time.DateOnly))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&perpetual, "perpetual", false, "grant access that never expires")
	return cmd
}

func migrateCmd(factory appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, factory, func(a *app) error {
				if a.migrate == nil {
					return errors.New("migrations unavailable")
				}
				if err := a.migrate(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}
