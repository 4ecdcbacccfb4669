package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// VerifiedPayer accumulates per-(payer, merchant) payment statistics.
type VerifiedPayer struct {
	ID                      int64
	PayerID                 int64
	MerchantID              int64
	FirstPaymentDate        time.Time
	LastPaymentDate         time.Time
	SuccessfulPaymentsCount int
	TotalAmountPaid         decimal.Decimal
	CardMasked              string
	PaymentSystem           string
	IssuerBank              string
}

// CardMetadata is the "most recently observed" card snapshot.
type CardMetadata struct {
	CardMasked    string
	PaymentSystem string
	IssuerBank    string
}

// OverwriteLatest replaces stored card metadata with every non-empty value
// from the latest payment, unlike InvoiceAudit.MergeIfEmpty.
func (v *VerifiedPayer) OverwriteLatest(m CardMetadata) {
	if m.CardMasked != "" {
		v.CardMasked = m.CardMasked
	}
	if m.PaymentSystem != "" {
		v.PaymentSystem = m.PaymentSystem
	}
	if m.IssuerBank != "" {
		v.IssuerBank = m.IssuerBank
	}
}
