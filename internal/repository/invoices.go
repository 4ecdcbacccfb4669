package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/set-night/subhook/internal/domain"
)

const invoiceColumns = `id, order_reference, payer_id, plan_id, merchant_id, subscription_id,
	amount, currency, status, plan_duration_days, transaction_id, rec_token,
	phone, email, card_pan, card_type, issuer_bank, issuer_country, payment_system,
	fee, rrn, approval_code, auth_code, terminal, reason_code,
	raw_request_payload, raw_response_payload, notified_at, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var (
		inv         domain.Invoice
		status      string
		subID       pgtype.Int8
		duration    pgtype.Int4
		notifiedAt  pgtype.Timestamptz
		paidAt      pgtype.Timestamptz
		reqPayload  []byte
		respPayload []byte
	)
	a := &inv.Audit
	err := row.Scan(
		&inv.ID, &inv.OrderReference, &inv.PayerID, &inv.PlanID, &inv.MerchantID, &subID,
		&inv.Amount, &inv.Currency, &status, &duration, &inv.TransactionID, &inv.RecToken,
		&a.Phone, &a.Email, &a.CardPan, &a.CardType, &a.IssuerBank, &a.IssuerCountry, &a.PaymentSystem,
		&a.Fee, &a.RRN, &a.ApprovalCode, &a.AuthCode, &a.Terminal, &a.ReasonCode,
		&reqPayload, &respPayload, &notifiedAt, &paidAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = domain.InvoiceStatus(status)
	inv.SubscriptionID = int8ToInt64Ptr(subID)
	inv.PlanDurationDays = int4ToIntPtr(duration)
	inv.NotifiedAt = pgTimestamptzToTimePtr(notifiedAt)
	inv.PaidAt = pgTimestamptzToTimePtr(paidAt)
	inv.RawRequestPayload = reqPayload
	inv.RawResponsePayload = respPayload
	return &inv, nil
}

func (q *Queries) GetInvoice(ctx context.Context, orderReference string) (*domain.Invoice, error) {
	row := q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM payment_invoices WHERE order_reference = $1`, orderReference)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, notFound(err, domain.ErrInvoiceNotFound)
	}
	return inv, nil
}

// GetInvoiceForUpdate locks the row until the surrounding transaction ends.
func (q *Queries) GetInvoiceForUpdate(ctx context.Context, orderReference string) (*domain.Invoice, error) {
	row := q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM payment_invoices WHERE order_reference = $1 FOR UPDATE`, orderReference)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, notFound(err, domain.ErrInvoiceNotFound)
	}
	return inv, nil
}

type InsertInvoiceParams struct {
	OrderReference    string
	PayerID           int64
	PlanID            int64
	MerchantID        int64
	Amount            decimal.Decimal
	Currency          string
	Status            domain.InvoiceStatus
	PlanDurationDays  *int
	RawRequestPayload []byte
}

// InsertInvoice creates the row unless the reference already exists.
func (q *Queries) InsertInvoice(ctx context.Context, arg InsertInvoiceParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO payment_invoices (order_reference, payer_id, plan_id, merchant_id, amount, currency, status, plan_duration_days, raw_request_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (order_reference) DO NOTHING`,
		arg.OrderReference, arg.PayerID, arg.PlanID, arg.MerchantID, arg.Amount, arg.Currency,
		string(arg.Status), intPtrToInt4(arg.PlanDurationDays), arg.RawRequestPayload,
	)
	if err != nil {
		return false, fmt.Errorf("insert invoice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimInvoice moves PENDING to PROCESSING. false means another delivery
// holds or already finished the claim.
func (q *Queries) ClaimInvoice(ctx context.Context, orderReference string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE payment_invoices SET status = $2, updated_at = NOW()
		WHERE order_reference = $1 AND status = $3`,
		orderReference, string(domain.InvoiceStatusProcessing), string(domain.InvoiceStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("claim invoice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

type TransitionInvoiceParams struct {
	OrderReference string
	From           domain.InvoiceStatus
	To             domain.InvoiceStatus
	PaidAt         *time.Time
	TransactionID  string
	RecToken       string
	RawResponse    []byte
	NotifiedAt     *time.Time
}

// TransitionInvoice is a compare-and-swap on status. Empty optional fields
// keep their stored values.
func (q *Queries) TransitionInvoice(ctx context.Context, arg TransitionInvoiceParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE payment_invoices SET
			status = $3,
			paid_at = COALESCE($4, paid_at),
			transaction_id = COALESCE(NULLIF($5, ''), transaction_id),
			rec_token = COALESCE(NULLIF($6, ''), rec_token),
			raw_response_payload = COALESCE($7, raw_response_payload),
			notified_at = COALESCE($8, notified_at),
			updated_at = NOW()
		WHERE order_reference = $1 AND status = $2`,
		arg.OrderReference, string(arg.From), string(arg.To),
		timePtrToPgTimestamptz(arg.PaidAt), arg.TransactionID, arg.RecToken,
		arg.RawResponse, timePtrToPgTimestamptz(arg.NotifiedAt),
	)
	if err != nil {
		return false, fmt.Errorf("transition invoice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MergeInvoiceAudit fills audit columns that are still empty.
func (q *Queries) MergeInvoiceAudit(ctx context.Context, orderReference string, a domain.InvoiceAudit) error {
	_, err := q.db.Exec(ctx, `
		UPDATE payment_invoices SET
			phone          = COALESCE(NULLIF(phone, ''), $2),
			email          = COALESCE(NULLIF(email, ''), $3),
			card_pan       = COALESCE(NULLIF(card_pan, ''), $4),
			card_type      = COALESCE(NULLIF(card_type, ''), $5),
			issuer_bank    = COALESCE(NULLIF(issuer_bank, ''), $6),
			issuer_country = COALESCE(NULLIF(issuer_country, ''), $7),
			payment_system = COALESCE(NULLIF(payment_system, ''), $8),
			fee            = COALESCE(fee, $9),
			rrn            = COALESCE(NULLIF(rrn, ''), $10),
			approval_code  = COALESCE(NULLIF(approval_code, ''), $11),
			auth_code      = COALESCE(NULLIF(auth_code, ''), $12),
			terminal       = COALESCE(NULLIF(terminal, ''), $13),
			reason_code    = COALESCE(NULLIF(reason_code, ''), $14),
			updated_at     = NOW()
		WHERE order_reference = $1`,
		orderReference, a.Phone, a.Email, a.CardPan, a.CardType, a.IssuerBank,
		domain.NormalizeIssuerCountry(a.IssuerCountry), a.PaymentSystem, a.Fee,
		a.RRN, a.ApprovalCode, a.AuthCode, a.Terminal, a.ReasonCode,
	)
	if err != nil {
		return fmt.Errorf("merge invoice audit: %w", err)
	}
	return nil
}

// RecordInvoiceSnapshot stores the latest inbound payload on a non-approved
// invoice. Approved rows are left alone.
func (q *Queries) RecordInvoiceSnapshot(ctx context.Context, orderReference string, raw []byte, notifiedAt time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE payment_invoices SET raw_response_payload = $2, notified_at = $3, updated_at = NOW()
		WHERE order_reference = $1 AND status <> $4`,
		orderReference, raw, notifiedAt, string(domain.InvoiceStatusApproved),
	)
	if err != nil {
		return fmt.Errorf("record invoice snapshot: %w", err)
	}
	return nil
}

func (q *Queries) SetInvoiceRequestPayload(ctx context.Context, orderReference string, raw []byte) error {
	_, err := q.db.Exec(ctx, `
		UPDATE payment_invoices SET raw_request_payload = $2, updated_at = NOW()
		WHERE order_reference = $1`,
		orderReference, raw,
	)
	if err != nil {
		return fmt.Errorf("set invoice request payload: %w", err)
	}
	return nil
}

func (q *Queries) LinkInvoiceSubscription(ctx context.Context, orderReference string, subscriptionID int64) error {
	_, err := q.db.Exec(ctx, `
		UPDATE payment_invoices SET subscription_id = $2, updated_at = NOW()
		WHERE order_reference = $1`,
		orderReference, subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("link invoice subscription: %w", err)
	}
	return nil
}

type HasRecentApprovalParams struct {
	PayerID    int64
	MerchantID int64
	ExcludeRef string
	Since      time.Time
}

// HasRecentApproval reports another approved invoice paid since Since.
func (q *Queries) HasRecentApproval(ctx context.Context, arg HasRecentApprovalParams) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_invoices
			WHERE payer_id = $1 AND merchant_id = $2 AND status = $3
				AND paid_at IS NOT NULL AND paid_at >= $4 AND order_reference <> $5
		)`,
		arg.PayerID, arg.MerchantID, string(domain.InvoiceStatusApproved), arg.Since, arg.ExcludeRef,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent approval: %w", err)
	}
	return exists, nil
}
