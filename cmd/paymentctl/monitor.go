package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/set-night/subhook/internal/config"
)

var errAlert = errors.New("alert threshold reached")

type monitorFlags struct {
	window      time.Duration
	merchantID  int64
	failOnAlert bool
}

func (f *monitorFlags) register(cmd *cobra.Command, defaultWindow time.Duration) {
	cmd.Flags().DurationVar(&f.window, "window", defaultWindow, "look-back window")
	cmd.Flags().Int64Var(&f.merchantID, "merchant-id", 0, "restrict to one merchant (bot id)")
	cmd.Flags().BoolVar(&f.failOnAlert, "fail-on-alert", false, "exit non-zero when the alert threshold is reached")
}

func (f *monitorFlags) merchant() *int64 {
	if f.merchantID == 0 {
		return nil
	}
	id := f.merchantID
	return &id
}

func (f *monitorFlags) verdict(alert bool) error {
	if alert && f.failOnAlert {
		return errAlert
	}
	return nil
}

func monitorCmd(factory appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run payment monitoring checks",
	}
	cmd.AddCommand(declinesCmd(factory))
	cmd.AddCommand(burstsCmd(factory))
	cmd.AddCommand(mismatchesCmd(factory))
	return cmd
}

func declinesCmd(factory appFactory) *cobra.Command {
	var (
		flags     monitorFlags
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "declines",
		Short: "Share of declined invoices in the window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, factory, func(a *app) error {
				stats, err := a.monitor.DeclineStats(cmd.Context(), flags.window, flags.merchant())
				if err != nil {
					return fmt.Errorf("decline stats: %w", err)
				}
				alert := stats.Total > 0 && stats.Ratio >= threshold
				fmt.Fprintf(cmd.OutOrStdout(), "declined %d of %d (%.1f%%), threshold %.1f%%, alert=%t\n",
					stats.Declined, stats.Total, stats.Ratio*100, threshold*100, alert)
				return flags.verdict(alert)
			})
		},
	}
	flags.register(cmd, config.DeclineWindow)
	cmd.Flags().Float64Var(&threshold, "threshold", config.DeclineRatioThreshold, "declined/total ratio that raises an alert")
	return cmd
}

func burstsCmd(factory appFactory) *cobra.Command {
	var (
		flags     monitorFlags
		threshold int
	)
	cmd := &cobra.Command{
		Use:   "bursts",
		Short: "Payers with many approvals in a short window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, factory, func(a *app) error {
				bursts, err := a.monitor.SuccessBursts(cmd.Context(), flags.window, threshold, flags.merchant())
				if err != nil {
					return fmt.Errorf("success bursts: %w", err)
				}
				out := cmd.OutOrStdout()
				for _, b := range bursts {
					fmt.Fprintf(out, "merchant %d payer %d: %d approvals\n", b.MerchantID, b.PayerID, b.Count)
				}
				fmt.Fprintf(out, "%d payer(s) at or above %d approvals in %s\n", len(bursts), threshold, flags.window)
				return flags.verdict(len(bursts) > 0)
			})
		},
	}
	flags.register(cmd, config.BurstWindow)
	cmd.Flags().IntVar(&threshold, "threshold", config.BurstThreshold, "approvals per payer that count as a burst")
	return cmd
}

func mismatchesCmd(factory appFactory) *cobra.Command {
	var (
		flags     monitorFlags
		threshold int
	)
	cmd := &cobra.Command{
		Use:   "mismatches",
		Short: "Invoices whose provider payload disagrees on amount or currency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, factory, func(a *app) error {
				found, err := a.monitor.AmountCurrencyMismatches(cmd.Context(), flags.window, flags.merchant())
				if err != nil {
					return fmt.Errorf("amount/currency mismatches: %w", err)
				}
				out := cmd.OutOrStdout()
				for _, m := range found {
					payload := "-"
					if m.PayloadAmount != nil {
						payload = m.PayloadAmount.String()
					}
					fmt.Fprintf(out, "%s: invoice %s %s, payload %s %s\n",
						m.OrderReference, m.InvoiceAmount, m.InvoiceCurrency, payload, m.PayloadCurrency)
				}
				fmt.Fprintf(out, "%d mismatch(es) in %s\n", len(found), flags.window)
				return flags.verdict(len(found) >= threshold)
			})
		},
	}
	flags.register(cmd, config.MismatchWindow)
	cmd.Flags().IntVar(&threshold, "threshold", config.MismatchCountThreshold, "mismatch count that raises an alert")
	return cmd
}
