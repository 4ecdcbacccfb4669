package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/repository"
	"github.com/set-night/subhook/internal/wayforpay"
)

// MonitoringService answers read-only questions for alerting jobs.
// A nil merchantID covers every merchant.
type MonitoringService struct {
	store repository.Querier
	now   func() time.Time
}

func NewMonitoringService(store repository.Querier, now func() time.Time) *MonitoringService {
	if now == nil {
		now = time.Now
	}
	return &MonitoringService{store: store, now: now}
}

func (s *MonitoringService) filter(window time.Duration, merchantID *int64) repository.MonitoringFilter {
	return repository.MonitoringFilter{Since: s.now().Add(-window), MerchantID: merchantID}
}

// DeclineStats counts invoices notified within window and the declined share.
func (s *MonitoringService) DeclineStats(ctx context.Context, window time.Duration, merchantID *int64) (domain.DeclineStats, error) {
	total, declined, err := s.store.CountNotifiedInvoices(ctx, s.filter(window, merchantID))
	if err != nil {
		return domain.DeclineStats{}, err
	}
	stats := domain.DeclineStats{Total: total, Declined: declined}
	if total > 0 {
		stats.Ratio = float64(declined) / float64(total)
	}
	return stats, nil
}

func (s *MonitoringService) IsDeclineRateHigh(ctx context.Context, threshold float64, window time.Duration, merchantID *int64) (bool, error) {
	stats, err := s.DeclineStats(ctx, window, merchantID)
	if err != nil {
		return false, err
	}
	return stats.Total > 0 && stats.Ratio >= threshold, nil
}

// SuccessBursts lists payers with at least threshold approvals in window.
func (s *MonitoringService) SuccessBursts(ctx context.Context, window time.Duration, threshold int, merchantID *int64) ([]domain.SuccessBurst, error) {
	return s.store.ListSuccessBursts(ctx, s.filter(window, merchantID), threshold)
}

// AmountCurrencyMismatches compares each invoice with the last payload the
// provider sent for it.
func (s *MonitoringService) AmountCurrencyMismatches(ctx context.Context, window time.Duration, merchantID *int64) ([]domain.AmountCurrencyMismatch, error) {
	invoices, err := s.store.ListNotifiedInvoices(ctx, s.filter(window, merchantID))
	if err != nil {
		return nil, err
	}

	var out []domain.AmountCurrencyMismatch
	for _, inv := range invoices {
		if len(inv.RawResponsePayload) == 0 {
			continue
		}
		n, err := wayforpay.ParseNotification(inv.RawResponsePayload)
		if err != nil {
			continue
		}

		m := domain.AmountCurrencyMismatch{
			InvoiceID:       inv.ID,
			OrderReference:  inv.OrderReference,
			InvoiceAmount:   inv.Amount,
			InvoiceCurrency: strings.ToUpper(inv.Currency),
			PayloadCurrency: n.Currency(),
		}
		mismatch := false
		if n.Has("amount") {
			if amount, err := n.Amount(); err == nil {
				m.PayloadAmount = &amount
				mismatch = !domain.AmountsMatch(amount, inv.Amount)
			}
		}
		if n.Has("currency") && m.PayloadCurrency != m.InvoiceCurrency {
			mismatch = true
		}
		if mismatch {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MonitoringService) HasAmountCurrencyMismatches(ctx context.Context, thresholdCount int, window time.Duration, merchantID *int64) (bool, error) {
	found, err := s.AmountCurrencyMismatches(ctx, window, merchantID)
	if err != nil {
		return false, fmt.Errorf("find mismatches: %w", err)
	}
	return len(found) >= thresholdCount, nil
}
