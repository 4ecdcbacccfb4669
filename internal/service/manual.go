package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/set-night/subhook/internal/config"
	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/repository"
	"github.com/set-night/subhook/internal/wayforpay"
)

// manualCard stands in for provider card metadata on operator payments.
var manualCard = domain.CardMetadata{
	CardMasked:    "MANUAL_****",
	PaymentSystem: "MANUAL",
	IssuerBank:    "Manual Payment",
}

// ManualService approves invoices settled outside the provider and runs the
// same ledger path as a webhook approval.
type ManualService struct {
	store    repository.Store
	ledger   *Ledger
	fraud    *FraudAccumulator
	notifier Notifier
	events   EventLog
	now      func() time.Time
}

func NewManualService(store repository.Store, notifier Notifier, events EventLog, now func() time.Time) *ManualService {
	if now == nil {
		now = time.Now
	}
	if events == nil {
		events = nopEventLog{}
	}
	return &ManualService{
		store:    store,
		ledger:   NewLedger(now),
		fraud:    NewFraudAccumulator(now),
		notifier: notifier,
		events:   events,
		now:      now,
	}
}

// ProcessManualPayment approves the invoice and grants its entitlement. With
// perpetual the subscription never expires.
func (s *ManualService) ProcessManualPayment(ctx context.Context, orderReference string, perpetual bool) (*domain.Subscription, error) {
	ref := wayforpay.Normalize(orderReference)

	var (
		inv *domain.Invoice
		sub *domain.Subscription
	)
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		inv, err = q.GetInvoiceForUpdate(ctx, ref)
		if err != nil {
			return fmt.Errorf("lock invoice: %w", err)
		}
		if inv.IsApproved() {
			return fmt.Errorf("invoice %s: %w", ref, domain.ErrAlreadyTerminal)
		}

		now := s.now()
		from := inv.Status
		if from == domain.InvoiceStatusNew {
			if _, err := q.TransitionInvoice(ctx, repository.TransitionInvoiceParams{
				OrderReference: ref, From: from, To: domain.InvoiceStatusPending,
			}); err != nil {
				return err
			}
			from = domain.InvoiceStatusPending
		}
		if !domain.CanTransition(from, domain.InvoiceStatusApproved) {
			return fmt.Errorf("invoice %s: %w", ref, transitionError(from, domain.InvoiceStatusApproved))
		}
		ok, err := q.TransitionInvoice(ctx, repository.TransitionInvoiceParams{
			OrderReference: ref,
			From:           from,
			To:             domain.InvoiceStatusApproved,
			PaidAt:         &now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("invoice %s: %w", ref, domain.ErrAlreadyTerminal)
		}
		inv.Status = domain.InvoiceStatusApproved
		inv.PaidAt = &now

		if perpetual {
			sub, err = s.ledger.ApplyPerpetual(ctx, q, inv, Payment{})
		} else {
			sub, err = s.ledger.Apply(ctx, q, inv, Payment{})
		}
		if err != nil {
			return fmt.Errorf("apply subscription: %w", err)
		}
		if _, err := s.fraud.Upsert(ctx, q, inv, manualCard); err != nil {
			return fmt.Errorf("update payer stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("manual payment processed",
		"order_reference", ref, "payer_id", inv.PayerID, "merchant_id", inv.MerchantID,
		"perpetual", perpetual, "expires_at", sub.ExpiresAt)
	s.events.ManualPayment(inv, sub, perpetual)

	planName := ""
	if plan, err := s.store.GetPlan(ctx, inv.PlanID); err == nil {
		planName = plan.Name
	}
	deliver(ctx, s.notifier, config.NotificationTimeout, &pendingNotice{
		merchantID: inv.MerchantID,
		payerID:    inv.PayerID,
		text:       PaymentSuccessText(planName, inv.Amount, inv.Currency, sub.ExpiresAt),
	})
	return sub, nil
}
