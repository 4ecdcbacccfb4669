package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/set-night/subhook/internal/config"
	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/repository"
	"github.com/set-night/subhook/internal/wayforpay"
)

type ReconcileConfig struct {
	// VerifySignature turns signature enforcement on. A merchant row with
	// verify_signature=false relaxes it for that merchant only.
	VerifySignature bool
	// VerifyMerchant requires the payload account to match the invoice's
	// merchant config.
	VerifyMerchant bool
	ListExpansion  wayforpay.ListExpansion
	ReplayTTL      time.Duration
	DebounceWindow time.Duration
	NotifyTimeout  time.Duration
	// Fallback signs and verifies for accounts without a merchant_configs row.
	Fallback *domain.Merchant
	Now      func() time.Time
}

// Result describes how one notification was resolved. Reason holds the
// absorbed error, if any; the caller still acknowledges.
type Result struct {
	OrderReference string
	Reason         error
	Applied        bool
	Status         domain.InvoiceStatus
	Ack            wayforpay.Ack
}

type ReconcileService struct {
	store    repository.Store
	codec    *wayforpay.Codec
	cfg      ReconcileConfig
	replay   *ReplayGuard
	ledger   *Ledger
	fraud    *FraudAccumulator
	debounce *Debouncer
	notifier Notifier
	events   EventLog
	now      func() time.Time
}

func NewReconcileService(store repository.Store, notifier Notifier, events EventLog, cfg ReconcileConfig) *ReconcileService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if events == nil {
		events = nopEventLog{}
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = config.NotificationTimeout
	}
	replay := NewReplayGuard(cfg.ReplayTTL)
	replay.Now = now
	return &ReconcileService{
		store:    store,
		codec:    wayforpay.NewCodec(),
		cfg:      cfg,
		replay:   replay,
		ledger:   NewLedger(now),
		fraud:    NewFraudAccumulator(now),
		debounce: NewDebouncer(cfg.DebounceWindow, now),
		notifier: notifier,
		events:   events,
		now:      now,
	}
}

// outcome is filled inside the transaction and acted on after commit.
type outcome struct {
	reason  error
	applied bool
	status  domain.InvoiceStatus
	invoice *domain.Invoice
	sub     *domain.Subscription
	notice  *pendingNotice
}

// HandleWebhook reconciles one notification body. The only error it returns
// wraps domain.ErrPersistenceFault; everything else is reported in Result.
func (s *ReconcileService) HandleWebhook(ctx context.Context, body []byte) (*Result, error) {
	n, err := wayforpay.ParseNotification(body)
	if err != nil {
		slog.Warn("webhook payload malformed", "error", err)
		return s.finish(s.cfg.Fallback, "", fmt.Errorf("%w: %v", domain.ErrReferenceUndecodable, err)), nil
	}

	ref := n.OrderReference()
	log := slog.With("order_reference", ref, "transaction_status", n.TransactionStatus())

	merchant, err := s.resolveMerchant(ctx, n.MerchantAccount())
	if err != nil {
		log.Error("resolve merchant failed", "error", err)
		return nil, persistenceFault(err)
	}

	// (1) signature, first against the key the payload names. The invoice's
	// own merchant has the final say once the row is locked.
	if !s.signatureValid(merchant, n) {
		log.Warn("webhook signature invalid", "merchant_account", n.MerchantAccount())
		s.events.PaymentRejected(ref, domain.ErrSignatureInvalid)
		return s.finish(merchant, ref, domain.ErrSignatureInvalid), nil
	}
	if ref == "" {
		log.Warn("webhook without order reference")
		return s.finish(merchant, ref, fmt.Errorf("%w: empty", domain.ErrReferenceUndecodable)), nil
	}

	// (2) freshness
	if err := s.replay.Check(n); err != nil {
		log.Warn("webhook discarded as stale", "error", err)
		return s.finish(merchant, ref, err), nil
	}

	// (3) correlation
	base, attempt, recurring := wayforpay.SplitRecurring(ref)
	decoded, decodeErr := s.codec.Decode(ref)
	if decodeErr != nil {
		log.Info("order reference not decodable, using exact lookup", "error", decodeErr)
	}

	var o outcome
	err = s.store.InTx(ctx, func(q repository.Querier) error {
		o = outcome{}
		inv, err := s.lockInvoice(ctx, q, ref, base, recurring)
		if errors.Is(err, domain.ErrInvoiceNotFound) {
			o.reason = err
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.authenticate(ctx, q, n, inv); err != nil {
			return err
		}
		// The reference is diagnostic only; the locked row is authoritative.
		if decodeErr == nil && (decoded.PayerID != inv.PayerID || decoded.PlanID != inv.PlanID) {
			log.Warn("decoded reference differs from invoice",
				"decoded_payer_id", decoded.PayerID, "payer_id", inv.PayerID,
				"decoded_plan_id", decoded.PlanID, "plan_id", inv.PlanID)
		}
		return s.reconcile(ctx, q, n, inv, recurring, &o)
	})
	if errors.Is(err, domain.ErrSignatureInvalid) {
		log.Warn("webhook signature invalid for invoice merchant", "error", err)
		s.events.PaymentRejected(ref, err)
		return s.finish(merchant, ref, err), nil
	}
	if err != nil {
		log.Error("webhook reconciliation failed", "error", err)
		s.events.Error(err, "webhook "+ref)
		return nil, persistenceFault(err)
	}

	switch {
	case o.applied:
		log.Info("payment approved",
			"payer_id", o.invoice.PayerID, "merchant_id", o.invoice.MerchantID,
			"recurring", recurring, "attempt", attempt, "expires_at", o.sub.ExpiresAt)
		s.events.PaymentApproved(o.invoice, o.sub)
		deliver(ctx, s.notifier, s.cfg.NotifyTimeout, o.notice)
	case o.reason != nil:
		log.Info("webhook absorbed", "reason", o.reason)
		if rejectionWorthLogging(o.reason) {
			s.events.PaymentRejected(ref, o.reason)
		}
	case o.status == domain.InvoiceStatusDeclined || o.status == domain.InvoiceStatusExpired:
		log.Info("payment not completed", "status", o.status, "reason_code", n.String("reasonCode"))
		s.events.PaymentRejected(ref, fmt.Errorf("provider status %s, reason %s", n.TransactionStatus(), n.String("reason")))
	default:
		log.Info("webhook recorded", "status", o.status)
	}

	res := s.finish(merchant, ref, o.reason)
	res.Applied = o.applied
	res.Status = o.status
	return res, nil
}

func (s *ReconcileService) reconcile(ctx context.Context, q repository.Querier, n *wayforpay.Notification, inv *domain.Invoice, recurring bool, o *outcome) error {
	now := s.now()
	o.status = inv.Status

	// (4) merchant identity
	if s.cfg.VerifyMerchant {
		m, err := q.GetMerchant(ctx, inv.MerchantID)
		switch {
		case errors.Is(err, domain.ErrMerchantNotFound):
			slog.Warn("merchant config missing, skipping merchant check", "merchant_id", inv.MerchantID)
		case err != nil:
			return err
		case strings.TrimSpace(m.Account) != n.MerchantAccount():
			o.reason = fmt.Errorf("%w: payload %q, expected %q", domain.ErrForeignMerchant, n.MerchantAccount(), m.Account)
			return nil
		}
	}

	// (5) currency
	if n.Currency() != strings.ToUpper(inv.Currency) {
		if err := q.RecordInvoiceSnapshot(ctx, inv.OrderReference, n.Raw(), now); err != nil {
			return err
		}
		o.reason = fmt.Errorf("%w: payload %q, invoice %q", domain.ErrCurrencyMismatch, n.Currency(), inv.Currency)
		return nil
	}

	target, known := wayforpay.MapStatus(n.TransactionStatus())

	// (6) amount, for approvals only
	if known && target == domain.InvoiceStatusApproved {
		amount, err := n.Amount()
		if err != nil || !domain.AmountsMatch(amount, inv.Amount) {
			if err := q.RecordInvoiceSnapshot(ctx, inv.OrderReference, n.Raw(), now); err != nil {
				return err
			}
			o.reason = fmt.Errorf("%w: payload %s, invoice %s", domain.ErrAmountMismatch, n.String("amount"), inv.Amount)
			return nil
		}
	}

	// (7) approved rows only ever gain missing audit metadata
	if inv.IsApproved() {
		if err := q.MergeInvoiceAudit(ctx, inv.OrderReference, n.Audit()); err != nil {
			return err
		}
		o.reason = fmt.Errorf("%w: %s", domain.ErrAlreadyTerminal, inv.Status)
		return nil
	}

	// (11) intermediate statuses leave the state alone
	if !known {
		if err := q.RecordInvoiceSnapshot(ctx, inv.OrderReference, n.Raw(), now); err != nil {
			return err
		}
		return q.MergeInvoiceAudit(ctx, inv.OrderReference, n.Audit())
	}

	if target == domain.InvoiceStatusApproved {
		return s.approve(ctx, q, n, inv, recurring, now, o)
	}
	return s.settle(ctx, q, n, inv, target, now, o)
}

// approve runs step (8): claim, CAS to APPROVED, then the entitlement side
// effects in the same transaction.
func (s *ReconcileService) approve(ctx context.Context, q repository.Querier, n *wayforpay.Notification, inv *domain.Invoice, recurring bool, now time.Time, o *outcome) error {
	from := inv.Status

	// A notification proves the provider issued the invoice even if the
	// checkout never recorded PENDING.
	if from == domain.InvoiceStatusNew {
		ok, err := q.TransitionInvoice(ctx, repository.TransitionInvoiceParams{
			OrderReference: inv.OrderReference,
			From:           domain.InvoiceStatusNew,
			To:             domain.InvoiceStatusPending,
		})
		if err != nil {
			return err
		}
		if !ok {
			o.reason = fmt.Errorf("%w: lost race on %s", domain.ErrAlreadyTerminal, from)
			return nil
		}
		from = domain.InvoiceStatusPending
	}

	if !recurring && from == domain.InvoiceStatusPending {
		claimed, err := q.ClaimInvoice(ctx, inv.OrderReference)
		if err != nil {
			return err
		}
		if !claimed {
			o.reason = fmt.Errorf("%w: claimed elsewhere", domain.ErrAlreadyTerminal)
			return nil
		}
		from = domain.InvoiceStatusProcessing
	}

	if !domain.CanTransition(from, domain.InvoiceStatusApproved) {
		if err := q.RecordInvoiceSnapshot(ctx, inv.OrderReference, n.Raw(), now); err != nil {
			return err
		}
		o.reason = transitionError(from, domain.InvoiceStatusApproved)
		return nil
	}

	ok, err := q.TransitionInvoice(ctx, repository.TransitionInvoiceParams{
		OrderReference: inv.OrderReference,
		From:           from,
		To:             domain.InvoiceStatusApproved,
		PaidAt:         &now,
		TransactionID:  n.TransactionID(),
		RecToken:       n.RecToken(),
		RawResponse:    n.Raw(),
		NotifiedAt:     &now,
	})
	if err != nil {
		return err
	}
	if !ok {
		o.reason = fmt.Errorf("%w: status changed concurrently", domain.ErrAlreadyTerminal)
		return nil
	}
	if err := q.MergeInvoiceAudit(ctx, inv.OrderReference, n.Audit()); err != nil {
		return err
	}

	inv.Status = domain.InvoiceStatusApproved
	inv.PaidAt = &now
	inv.NotifiedAt = &now
	inv.Audit = inv.Audit.MergeIfEmpty(n.Audit())

	sub, err := s.ledger.Apply(ctx, q, inv, Payment{
		TransactionID:  n.TransactionID(),
		RecToken:       n.RecToken(),
		CardMasked:     n.String("cardPan"),
		RegularCreated: n.RegularCreated(),
		RegularMode:    n.RegularMode(),
	})
	if err != nil {
		return fmt.Errorf("apply subscription: %w", err)
	}
	if _, err := s.fraud.Upsert(ctx, q, inv, n.CardMetadata()); err != nil {
		return fmt.Errorf("update payer stats: %w", err)
	}

	notify, err := s.debounce.ShouldNotify(ctx, q, inv)
	if err != nil {
		return fmt.Errorf("check notification debounce: %w", err)
	}
	if notify {
		o.notice = s.successNotice(ctx, q, inv, sub)
	} else {
		slog.Info("success notification suppressed",
			"payer_id", inv.PayerID, "merchant_id", inv.MerchantID, "window", s.debounce.Window)
	}

	o.applied = true
	o.status = domain.InvoiceStatusApproved
	o.invoice = inv
	o.sub = sub
	return nil
}

// settle records DECLINED, EXPIRED and the refund family. None of them touch
// the subscription.
func (s *ReconcileService) settle(ctx context.Context, q repository.Querier, n *wayforpay.Notification, inv *domain.Invoice, target domain.InvoiceStatus, now time.Time, o *outcome) error {
	if !domain.CanTransition(inv.Status, target) {
		if err := q.RecordInvoiceSnapshot(ctx, inv.OrderReference, n.Raw(), now); err != nil {
			return err
		}
		if err := q.MergeInvoiceAudit(ctx, inv.OrderReference, n.Audit()); err != nil {
			return err
		}
		o.reason = transitionError(inv.Status, target)
		return nil
	}

	ok, err := q.TransitionInvoice(ctx, repository.TransitionInvoiceParams{
		OrderReference: inv.OrderReference,
		From:           inv.Status,
		To:             target,
		TransactionID:  n.TransactionID(),
		RawResponse:    n.Raw(),
		NotifiedAt:     &now,
	})
	if err != nil {
		return err
	}
	if !ok {
		o.reason = fmt.Errorf("%w: status changed concurrently", domain.ErrAlreadyTerminal)
		return nil
	}
	if err := q.MergeInvoiceAudit(ctx, inv.OrderReference, n.Audit()); err != nil {
		return err
	}
	o.status = target
	return nil
}

// lockInvoice locks the invoice for ref. A recurring charge seen for the
// first time gets its own row copied from the base invoice.
func (s *ReconcileService) lockInvoice(ctx context.Context, q repository.Querier, ref, base string, recurring bool) (*domain.Invoice, error) {
	inv, err := q.GetInvoiceForUpdate(ctx, ref)
	if err == nil || !recurring || !errors.Is(err, domain.ErrInvoiceNotFound) {
		return inv, err
	}

	parent, err := q.GetInvoice(ctx, base)
	if err != nil {
		return nil, err
	}
	if _, err := q.InsertInvoice(ctx, repository.InsertInvoiceParams{
		OrderReference:   ref,
		PayerID:          parent.PayerID,
		PlanID:           parent.PlanID,
		MerchantID:       parent.MerchantID,
		Amount:           parent.Amount,
		Currency:         parent.Currency,
		Status:           domain.InvoiceStatusPending,
		PlanDurationDays: parent.PlanDurationDays,
	}); err != nil {
		return nil, err
	}
	slog.Info("recurring invoice created", "order_reference", ref, "base_reference", base)
	return q.GetInvoiceForUpdate(ctx, ref)
}

func (s *ReconcileService) successNotice(ctx context.Context, q repository.Querier, inv *domain.Invoice, sub *domain.Subscription) *pendingNotice {
	planName := ""
	if plan, err := q.GetPlan(ctx, inv.PlanID); err == nil {
		planName = plan.Name
	} else {
		slog.Warn("plan lookup for notification failed", "plan_id", inv.PlanID, "error", err)
	}
	return &pendingNotice{
		merchantID: inv.MerchantID,
		payerID:    inv.PayerID,
		text:       PaymentSuccessText(planName, inv.Amount, inv.Currency, sub.ExpiresAt),
	}
}

func (s *ReconcileService) resolveMerchant(ctx context.Context, account string) (*domain.Merchant, error) {
	if account != "" {
		m, err := s.store.GetMerchantByAccount(ctx, account)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrMerchantNotFound) {
			return nil, err
		}
	}
	return s.fallback(), nil
}

// authenticate verifies the signature with the key of the merchant that owns
// inv. Only that merchant's row can relax the check; the fallback key stands
// in when the merchant has no row. A failure rolls back the transaction, so a
// recurring row cloned for this delivery is discarded too.
func (s *ReconcileService) authenticate(ctx context.Context, q repository.Querier, n *wayforpay.Notification, inv *domain.Invoice) error {
	if !s.cfg.VerifySignature {
		return nil
	}
	m, err := q.GetMerchant(ctx, inv.MerchantID)
	switch {
	case errors.Is(err, domain.ErrMerchantNotFound):
		m = s.fallback()
	case err != nil:
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: no key for merchant %d", domain.ErrSignatureInvalid, inv.MerchantID)
	}
	if !m.VerifySignature {
		return nil
	}
	signer := wayforpay.NewSigner(m.SecretKey, s.cfg.ListExpansion)
	if !signer.Verify(n.Fields(), wayforpay.ResponseSignatureKeys, n.Signature()) {
		return fmt.Errorf("%w: not signed by merchant %d", domain.ErrSignatureInvalid, inv.MerchantID)
	}
	return nil
}

func (s *ReconcileService) fallback() *domain.Merchant {
	if s.cfg.Fallback != nil && s.cfg.Fallback.SecretKey != "" {
		return s.cfg.Fallback
	}
	return nil
}

// signatureValid is the early check against the merchant the payload names.
// A relaxed row defers the decision to authenticate.
func (s *ReconcileService) signatureValid(m *domain.Merchant, n *wayforpay.Notification) bool {
	if !s.cfg.VerifySignature || (m != nil && !m.VerifySignature) {
		return true
	}
	if m == nil {
		return false
	}
	signer := wayforpay.NewSigner(m.SecretKey, s.cfg.ListExpansion)
	return signer.Verify(n.Fields(), wayforpay.ResponseSignatureKeys, n.Signature())
}

func (s *ReconcileService) finish(m *domain.Merchant, ref string, reason error) *Result {
	secret := ""
	if m != nil {
		secret = m.SecretKey
	}
	signer := wayforpay.NewSigner(secret, s.cfg.ListExpansion)
	return &Result{
		OrderReference: ref,
		Reason:         reason,
		Ack:            wayforpay.NewAck(signer, ref, s.now()),
	}
}

func transitionError(from, to domain.InvoiceStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s, got %s", domain.ErrAlreadyTerminal, from, to)
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
}

func rejectionWorthLogging(reason error) bool {
	return errors.Is(reason, domain.ErrForeignMerchant) ||
		errors.Is(reason, domain.ErrCurrencyMismatch) ||
		errors.Is(reason, domain.ErrAmountMismatch)
}

func persistenceFault(err error) error {
	if errors.Is(err, domain.ErrPersistenceFault) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistenceFault, err)
}
