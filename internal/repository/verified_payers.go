package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/set-night/subhook/internal/domain"
)

func (q *Queries) GetVerifiedPayerForUpdate(ctx context.Context, payerID, merchantID int64) (*domain.VerifiedPayer, error) {
	var (
		v     domain.VerifiedPayer
		count int32
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, payer_id, merchant_id, first_payment_date, last_payment_date,
			successful_payments_count, total_amount_paid, card_masked, payment_system, issuer_bank
		FROM verified_payers WHERE payer_id = $1 AND merchant_id = $2 FOR UPDATE`,
		payerID, merchantID,
	).Scan(&v.ID, &v.PayerID, &v.MerchantID, &v.FirstPaymentDate, &v.LastPaymentDate,
		&count, &v.TotalAmountPaid, &v.CardMasked, &v.PaymentSystem, &v.IssuerBank)
	if err != nil {
		return nil, notFound(err, domain.ErrVerifiedPayerNotFound)
	}
	v.SuccessfulPaymentsCount = int(count)
	return &v, nil
}

// InsertVerifiedPayer returns false when the row already exists.
func (q *Queries) InsertVerifiedPayer(ctx context.Context, v *domain.VerifiedPayer) (bool, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO verified_payers (payer_id, merchant_id, first_payment_date, last_payment_date,
			successful_payments_count, total_amount_paid, card_masked, payment_system, issuer_bank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (payer_id, merchant_id) DO NOTHING
		RETURNING id`,
		v.PayerID, v.MerchantID, v.FirstPaymentDate, v.LastPaymentDate,
		int32(v.SuccessfulPaymentsCount), v.TotalAmountPaid, v.CardMasked, v.PaymentSystem, v.IssuerBank,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert verified payer: %w", err)
	}
	v.ID = id
	return true, nil
}

func (q *Queries) UpdateVerifiedPayer(ctx context.Context, v *domain.VerifiedPayer) error {
	_, err := q.db.Exec(ctx, `
		UPDATE verified_payers SET
			last_payment_date = $2, successful_payments_count = $3, total_amount_paid = $4,
			card_masked = $5, payment_system = $6, issuer_bank = $7, updated_at = NOW()
		WHERE id = $1`,
		v.ID, v.LastPaymentDate, int32(v.SuccessfulPaymentsCount), v.TotalAmountPaid,
		v.CardMasked, v.PaymentSystem, v.IssuerBank,
	)
	if err != nil {
		return fmt.Errorf("update verified payer: %w", err)
	}
	return nil
}
