package service

import (
	"context"
	"time"

	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/repository"
)

// Debouncer suppresses a success message when another approved invoice for
// the same (payer, merchant) was paid within Window.
type Debouncer struct {
	Window time.Duration
	now    func() time.Time
}

func NewDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	return &Debouncer{Window: window, now: now}
}

func (d *Debouncer) ShouldNotify(ctx context.Context, q repository.Querier, inv *domain.Invoice) (bool, error) {
	if d.Window <= 0 {
		return true, nil
	}
	recent, err := q.HasRecentApproval(ctx, repository.HasRecentApprovalParams{
		PayerID:    inv.PayerID,
		MerchantID: inv.MerchantID,
		ExcludeRef: inv.OrderReference,
		Since:      d.now().Add(-d.Window),
	})
	if err != nil {
		return false, err
	}
	return !recent, nil
}
