package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/repository"
)

// FraudAccumulator keeps running payment statistics per (payer, merchant).
type FraudAccumulator struct {
	now func() time.Time
}

func NewFraudAccumulator(now func() time.Time) *FraudAccumulator {
	if now == nil {
		now = time.Now
	}
	return &FraudAccumulator{now: now}
}

// Upsert records one approved invoice. Card metadata always reflects the
// latest payment.
func (f *FraudAccumulator) Upsert(ctx context.Context, q repository.Querier, inv *domain.Invoice, card domain.CardMetadata) (*domain.VerifiedPayer, error) {
	now := f.now()

	v, err := q.GetVerifiedPayerForUpdate(ctx, inv.PayerID, inv.MerchantID)
	if errors.Is(err, domain.ErrVerifiedPayerNotFound) {
		v = &domain.VerifiedPayer{
			PayerID:                 inv.PayerID,
			MerchantID:              inv.MerchantID,
			FirstPaymentDate:        now,
			LastPaymentDate:         now,
			SuccessfulPaymentsCount: 1,
			TotalAmountPaid:         inv.Amount,
		}
		v.OverwriteLatest(card)
		inserted, err := q.InsertVerifiedPayer(ctx, v)
		if err != nil {
			return nil, err
		}
		if inserted {
			return v, nil
		}
		v, err = q.GetVerifiedPayerForUpdate(ctx, inv.PayerID, inv.MerchantID)
		if err != nil {
			return nil, fmt.Errorf("lock verified payer: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("lock verified payer: %w", err)
	}

	v.SuccessfulPaymentsCount++
	v.TotalAmountPaid = v.TotalAmountPaid.Add(inv.Amount)
	v.LastPaymentDate = now
	v.OverwriteLatest(card)
	if err := q.UpdateVerifiedPayer(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}
