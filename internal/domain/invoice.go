package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusNew        InvoiceStatus = "NEW"
	InvoiceStatusPending    InvoiceStatus = "PENDING"
	InvoiceStatusProcessing InvoiceStatus = "PROCESSING"
	InvoiceStatusApproved   InvoiceStatus = "APPROVED"
	InvoiceStatusDeclined   InvoiceStatus = "DECLINED"
	InvoiceStatusExpired    InvoiceStatus = "EXPIRED"
	InvoiceStatusRefunded   InvoiceStatus = "REFUNDED"
	InvoiceStatusReversed   InvoiceStatus = "REVERSED"
	InvoiceStatusChargeback InvoiceStatus = "CHARGEBACK"
)

// IsRefundFamily reports the terminal-but-non-authoritative markers.
func (s InvoiceStatus) IsRefundFamily() bool {
	switch s {
	case InvoiceStatusRefunded, InvoiceStatusReversed, InvoiceStatusChargeback:
		return true
	}
	return false
}

func (s InvoiceStatus) IsTerminal() bool {
	switch s {
	case InvoiceStatusApproved, InvoiceStatusDeclined, InvoiceStatusExpired:
		return true
	}
	return s.IsRefundFamily()
}

// CanTransition encodes the invoice state machine. APPROVED has no exits.
func CanTransition(from, to InvoiceStatus) bool {
	if from == InvoiceStatusApproved || from == to {
		return false
	}
	switch to {
	case InvoiceStatusPending:
		return from == InvoiceStatusNew
	case InvoiceStatusProcessing:
		return from == InvoiceStatusPending
	case InvoiceStatusApproved:
		return from == InvoiceStatusPending || from == InvoiceStatusProcessing
	case InvoiceStatusDeclined, InvoiceStatusExpired:
		return !from.IsTerminal()
	case InvoiceStatusRefunded, InvoiceStatusReversed, InvoiceStatusChargeback:
		return !from.IsRefundFamily()
	}
	return false
}

// InvoiceAudit is provider-reported metadata kept for support and fraud review.
type InvoiceAudit struct {
	Phone         string
	Email         string
	CardPan       string
	CardType      string
	IssuerBank    string
	IssuerCountry string
	PaymentSystem string
	Fee           decimal.NullDecimal
	RRN           string
	ApprovalCode  string
	AuthCode      string
	Terminal      string
	ReasonCode    string
}

// MergeIfEmpty fills only the fields that are still empty on a; a populated
// value is never replaced, and an empty incoming value never clears one.
func (a InvoiceAudit) MergeIfEmpty(in InvoiceAudit) InvoiceAudit {
	pick := func(cur, next string) string {
		if cur != "" {
			return cur
		}
		return next
	}
	a.Phone = pick(a.Phone, in.Phone)
	a.Email = pick(a.Email, in.Email)
	a.CardPan = pick(a.CardPan, in.CardPan)
	a.CardType = pick(a.CardType, in.CardType)
	a.IssuerBank = pick(a.IssuerBank, in.IssuerBank)
	a.IssuerCountry = pick(a.IssuerCountry, in.IssuerCountry)
	a.PaymentSystem = pick(a.PaymentSystem, in.PaymentSystem)
	a.RRN = pick(a.RRN, in.RRN)
	a.ApprovalCode = pick(a.ApprovalCode, in.ApprovalCode)
	a.AuthCode = pick(a.AuthCode, in.AuthCode)
	a.Terminal = pick(a.Terminal, in.Terminal)
	a.ReasonCode = pick(a.ReasonCode, in.ReasonCode)
	if !a.Fee.Valid {
		a.Fee = in.Fee
	}
	return a
}

// NormalizeIssuerCountry keeps the 3-letter upper-case country code.
func NormalizeIssuerCountry(s string) string {
	r := []rune(strings.ToUpper(strings.TrimSpace(s)))
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r)
}

type Invoice struct {
	ID               int64
	OrderReference   string
	PayerID          int64
	PlanID           int64
	MerchantID       int64
	SubscriptionID   *int64
	Amount           decimal.Decimal
	Currency         string
	Status           InvoiceStatus
	PlanDurationDays *int
	TransactionID    string
	RecToken         string
	Audit            InvoiceAudit

	RawRequestPayload  []byte
	RawResponsePayload []byte

	NotifiedAt *time.Time
	PaidAt     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (i *Invoice) IsApproved() bool {
	return i.Status == InvoiceStatusApproved
}

// AmountsMatch compares amounts after rounding to whole currency units, the
// precision the provider reports for hosted invoices.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Round(0).Equal(b.Round(0))
}
