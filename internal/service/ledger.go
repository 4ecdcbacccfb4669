package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/set-night/subhook/internal/config"
	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/repository"
)

// Payment carries the per-charge values the ledger copies onto a
// subscription.
type Payment struct {
	TransactionID  string
	RecToken       string
	CardMasked     string
	RegularCreated bool
	RegularMode    string
}

// Ledger creates and extends subscriptions. All calls must run inside the
// caller's transaction.
type Ledger struct {
	now func() time.Time
}

func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// ResolveDurationDays prefers the snapshot taken at issuance so later plan
// edits do not change what was paid for.
func ResolveDurationDays(ctx context.Context, q repository.Querier, inv *domain.Invoice) (int, error) {
	if inv.PlanDurationDays != nil && *inv.PlanDurationDays > 0 {
		return *inv.PlanDurationDays, nil
	}
	plan, err := q.GetPlan(ctx, inv.PlanID)
	if err != nil {
		return 0, fmt.Errorf("get plan %d: %w", inv.PlanID, err)
	}
	if plan.DurationDays <= 0 {
		return 0, fmt.Errorf("plan %d: %w", plan.ID, domain.ErrInvalidDuration)
	}
	return plan.DurationDays, nil
}

// ExtendExpiry returns max(current, now) + days.
func ExtendExpiry(current, now time.Time, days int) time.Time {
	anchor := now
	if current.After(now) {
		anchor = current
	}
	return anchor.AddDate(0, 0, days)
}

// Apply grants the entitlement paid by inv to its (payer, merchant) pair.
func (l *Ledger) Apply(ctx context.Context, q repository.Querier, inv *domain.Invoice, p Payment) (*domain.Subscription, error) {
	days, err := ResolveDurationDays(ctx, q, inv)
	if err != nil {
		return nil, err
	}
	return l.apply(ctx, q, inv, p, func(sub *domain.Subscription, now time.Time) {
		sub.ExpiresAt = ExtendExpiry(sub.ExpiresAt, now, days)
		if p.RegularCreated && sub.RecurrentStatus == "" {
			setRecurringSchedule(sub, p.RegularMode, now, days)
		}
	}, func(now time.Time) *domain.Subscription {
		sub := l.newSubscription(inv, p, now)
		sub.ExpiresAt = now.AddDate(0, 0, days)
		if p.RegularCreated {
			setRecurringSchedule(sub, p.RegularMode, now, days)
		}
		return sub
	})
}

// ApplyPerpetual grants lifetime access regardless of the plan duration.
func (l *Ledger) ApplyPerpetual(ctx context.Context, q repository.Querier, inv *domain.Invoice, p Payment) (*domain.Subscription, error) {
	markPerpetual := func(sub *domain.Subscription) {
		sub.ExpiresAt = domain.PerpetualExpiry
		sub.RecurrentStatus = recurrentStatusActive
		sub.RecurrentMode = recurrentModeManual
	}
	return l.apply(ctx, q, inv, p, func(sub *domain.Subscription, _ time.Time) {
		markPerpetual(sub)
	}, func(now time.Time) *domain.Subscription {
		sub := l.newSubscription(inv, p, now)
		markPerpetual(sub)
		return sub
	})
}

const (
	recurrentStatusActive = "Active"
	recurrentModeManual   = "manual"
)

func (l *Ledger) apply(
	ctx context.Context,
	q repository.Querier,
	inv *domain.Invoice,
	p Payment,
	extend func(sub *domain.Subscription, now time.Time),
	create func(now time.Time) *domain.Subscription,
) (*domain.Subscription, error) {
	now := l.now()

	sub, err := q.GetSubscriptionForUpdate(ctx, inv.PayerID, inv.MerchantID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		sub = create(now)
		id, inserted, err := q.InsertSubscription(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}
		if inserted {
			sub.ID = id
			if err := q.LinkInvoiceSubscription(ctx, inv.OrderReference, id); err != nil {
				return nil, err
			}
			slog.Info("subscription created",
				"subscription_id", id, "payer_id", inv.PayerID, "merchant_id", inv.MerchantID,
				"expires_at", sub.ExpiresAt)
			return sub, nil
		}
		// A concurrent transaction inserted the row first; extend it instead.
		sub, err = q.GetSubscriptionForUpdate(ctx, inv.PayerID, inv.MerchantID)
		if err != nil {
			return nil, fmt.Errorf("lock subscription: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("lock subscription: %w", err)
	}

	previous := sub.ExpiresAt
	extend(sub, now)
	if sub.ExpiresAt.Before(previous) {
		sub.ExpiresAt = previous
	}
	sub.Status = domain.SubscriptionStatusActive
	sub.LastPaymentDate = &now
	sub.ReminderSentCount = 0
	sub.ReminderSentAt = nil
	sub.ReminderFailedAttempts = 0
	sub.Amount = decimal.NewNullDecimal(inv.Amount)
	sub.OrderReference = inv.OrderReference
	if p.TransactionID != "" {
		sub.TransactionID = p.TransactionID
	}
	if p.RecToken != "" {
		sub.CardToken = p.RecToken
	}
	if p.CardMasked != "" {
		sub.CardMasked = p.CardMasked
	}

	if err := q.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if err := q.LinkInvoiceSubscription(ctx, inv.OrderReference, sub.ID); err != nil {
		return nil, err
	}
	slog.Info("subscription extended",
		"subscription_id", sub.ID, "payer_id", inv.PayerID, "merchant_id", inv.MerchantID,
		"previous_expires_at", previous, "expires_at", sub.ExpiresAt)
	return sub, nil
}

func (l *Ledger) newSubscription(inv *domain.Invoice, p Payment, now time.Time) *domain.Subscription {
	return &domain.Subscription{
		PayerID:         inv.PayerID,
		MerchantID:      inv.MerchantID,
		PlanID:          inv.PlanID,
		Status:          domain.SubscriptionStatusActive,
		StartsAt:        now,
		LastPaymentDate: &now,
		Amount:          decimal.NewNullDecimal(inv.Amount),
		OrderReference:  inv.OrderReference,
		TransactionID:   p.TransactionID,
		CardToken:       p.RecToken,
		CardMasked:      p.CardMasked,
	}
}

func setRecurringSchedule(sub *domain.Subscription, mode string, now time.Time, days int) {
	if mode == "" {
		mode = config.DefaultRecurringMode
	}
	begin := truncateToDay(now)
	end := begin.Add(config.RecurringPeriod)
	next := begin.AddDate(0, 0, days)
	sub.RecurrentStatus = recurrentStatusActive
	sub.RecurrentMode = mode
	sub.RecurrentDateBegin = &begin
	sub.RecurrentDateEnd = &end
	sub.RecurrentNextPayment = &next
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
