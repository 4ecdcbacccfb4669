package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/set-night/subhook/internal/domain"
)

const subscriptionColumns = `id, payer_id, merchant_id, plan_id, status, starts_at, expires_at, last_payment_date,
	amount, order_reference, transaction_id,
	recurrent_status, recurrent_mode, recurrent_date_begin, recurrent_date_end, recurrent_next_payment,
	card_token, card_masked, reminder_sent_count, reminder_sent_at, reminder_failed_attempts,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		s                                    domain.Subscription
		status                               string
		lastPayment, reminderAt              pgtype.Timestamptz
		recBegin, recEnd, recNext            pgtype.Timestamptz
		reminderCount, reminderFailedAttempt int32
	)
	err := row.Scan(
		&s.ID, &s.PayerID, &s.MerchantID, &s.PlanID, &status, &s.StartsAt, &s.ExpiresAt, &lastPayment,
		&s.Amount, &s.OrderReference, &s.TransactionID,
		&s.RecurrentStatus, &s.RecurrentMode, &recBegin, &recEnd, &recNext,
		&s.CardToken, &s.CardMasked, &reminderCount, &reminderAt, &reminderFailedAttempt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = domain.SubscriptionStatus(status)
	s.LastPaymentDate = pgTimestamptzToTimePtr(lastPayment)
	s.RecurrentDateBegin = pgTimestamptzToTimePtr(recBegin)
	s.RecurrentDateEnd = pgTimestamptzToTimePtr(recEnd)
	s.RecurrentNextPayment = pgTimestamptzToTimePtr(recNext)
	s.ReminderSentAt = pgTimestamptzToTimePtr(reminderAt)
	s.ReminderSentCount = int(reminderCount)
	s.ReminderFailedAttempts = int(reminderFailedAttempt)
	return &s, nil
}

// GetSubscriptionForUpdate locks the (payer, merchant) row.
func (q *Queries) GetSubscriptionForUpdate(ctx context.Context, payerID, merchantID int64) (*domain.Subscription, error) {
	row := q.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE payer_id = $1 AND merchant_id = $2 FOR UPDATE`, payerID, merchantID)
	s, err := scanSubscription(row)
	if err != nil {
		return nil, notFound(err, domain.ErrSubscriptionNotFound)
	}
	return s, nil
}

// InsertSubscription returns inserted=false when a concurrent transaction
// already created the (payer, merchant) row.
func (q *Queries) InsertSubscription(ctx context.Context, s *domain.Subscription) (id int64, inserted bool, err error) {
	err = q.db.QueryRow(ctx, `
		INSERT INTO subscriptions (
			payer_id, merchant_id, plan_id, status, starts_at, expires_at, last_payment_date,
			amount, order_reference, transaction_id,
			recurrent_status, recurrent_mode, recurrent_date_begin, recurrent_date_end, recurrent_next_payment,
			card_token, card_masked, reminder_sent_count, reminder_sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (payer_id, merchant_id) DO NOTHING
		RETURNING id`,
		s.PayerID, s.MerchantID, s.PlanID, string(s.Status), s.StartsAt, s.ExpiresAt, timePtrToPgTimestamptz(s.LastPaymentDate),
		s.Amount, s.OrderReference, s.TransactionID,
		s.RecurrentStatus, s.RecurrentMode, timePtrToPgTimestamptz(s.RecurrentDateBegin),
		timePtrToPgTimestamptz(s.RecurrentDateEnd), timePtrToPgTimestamptz(s.RecurrentNextPayment),
		s.CardToken, s.CardMasked, int32(s.ReminderSentCount), timePtrToPgTimestamptz(s.ReminderSentAt),
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert subscription: %w", err)
	}
	return id, true, nil
}

// UpdateSubscription writes every mutable column. plan_id is not touched.
func (q *Queries) UpdateSubscription(ctx context.Context, s *domain.Subscription) error {
	_, err := q.db.Exec(ctx, `
		UPDATE subscriptions SET
			status = $2, expires_at = $3, last_payment_date = $4,
			amount = $5, order_reference = $6, transaction_id = $7,
			recurrent_status = $8, recurrent_mode = $9, recurrent_date_begin = $10,
			recurrent_date_end = $11, recurrent_next_payment = $12,
			card_token = $13, card_masked = $14,
			reminder_sent_count = $15, reminder_sent_at = $16, reminder_failed_attempts = $17,
			updated_at = NOW()
		WHERE id = $1`,
		s.ID, string(s.Status), s.ExpiresAt, timePtrToPgTimestamptz(s.LastPaymentDate),
		s.Amount, s.OrderReference, s.TransactionID,
		s.RecurrentStatus, s.RecurrentMode, timePtrToPgTimestamptz(s.RecurrentDateBegin),
		timePtrToPgTimestamptz(s.RecurrentDateEnd), timePtrToPgTimestamptz(s.RecurrentNextPayment),
		s.CardToken, s.CardMasked,
		int32(s.ReminderSentCount), timePtrToPgTimestamptz(s.ReminderSentAt), int32(s.ReminderFailedAttempts),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}
