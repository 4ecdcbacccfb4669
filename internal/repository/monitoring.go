package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/set-night/subhook/internal/domain"
)

// MonitoringFilter scopes monitoring reads to invoices notified since Since,
// optionally for one merchant.
type MonitoringFilter struct {
	Since      time.Time
	MerchantID *int64
}

func (q *Queries) CountNotifiedInvoices(ctx context.Context, f MonitoringFilter) (total, declined int64, err error) {
	err = q.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $3)
		FROM payment_invoices
		WHERE notified_at >= $1 AND ($2::bigint IS NULL OR merchant_id = $2)`,
		f.Since, f.MerchantID, string(domain.InvoiceStatusDeclined),
	).Scan(&total, &declined)
	if err != nil {
		return 0, 0, fmt.Errorf("count notified invoices: %w", err)
	}
	return total, declined, nil
}

func (q *Queries) ListSuccessBursts(ctx context.Context, f MonitoringFilter, threshold int) ([]domain.SuccessBurst, error) {
	rows, err := q.db.Query(ctx, `
		SELECT merchant_id, payer_id, COUNT(*)
		FROM payment_invoices
		WHERE notified_at >= $1 AND status = $3 AND ($2::bigint IS NULL OR merchant_id = $2)
		GROUP BY merchant_id, payer_id
		HAVING COUNT(*) >= $4
		ORDER BY COUNT(*) DESC, merchant_id, payer_id`,
		f.Since, f.MerchantID, string(domain.InvoiceStatusApproved), threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("list success bursts: %w", err)
	}
	defer rows.Close()

	var out []domain.SuccessBurst
	for rows.Next() {
		var b domain.SuccessBurst
		if err := rows.Scan(&b.MerchantID, &b.PayerID, &b.Count); err != nil {
			return nil, fmt.Errorf("scan success burst: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListNotifiedInvoices returns the invoices with an inbound snapshot in the
// window. Only identity, amount, currency and the snapshot are loaded.
func (q *Queries) ListNotifiedInvoices(ctx context.Context, f MonitoringFilter) ([]*domain.Invoice, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_reference, amount, currency, raw_response_payload
		FROM payment_invoices
		WHERE notified_at >= $1 AND ($2::bigint IS NULL OR merchant_id = $2)
		ORDER BY id`,
		f.Since, f.MerchantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list notified invoices: %w", err)
	}
	defer rows.Close()

	var out []*domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(&inv.ID, &inv.OrderReference, &inv.Amount, &inv.Currency, &inv.RawResponsePayload); err != nil {
			return nil, fmt.Errorf("scan notified invoice: %w", err)
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}
