package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrial    SubscriptionStatus = "trial"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// PerpetualExpiry is the expiry written for manually granted lifetime access.
var PerpetualExpiry = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Subscription is a payer's entitlement window for one merchant. There is a
// single row per (PayerID, MerchantID) whatever plan paid for it last.
type Subscription struct {
	ID              int64
	PayerID         int64
	MerchantID      int64
	PlanID          int64
	Status          SubscriptionStatus
	StartsAt        time.Time
	ExpiresAt       time.Time
	LastPaymentDate *time.Time

	Amount         decimal.NullDecimal
	OrderReference string
	TransactionID  string

	// Recurring charges
	RecurrentStatus      string
	RecurrentMode        string
	RecurrentDateBegin   *time.Time
	RecurrentDateEnd     *time.Time
	RecurrentNextPayment *time.Time
	CardToken            string
	CardMasked           string

	// Reminders
	ReminderSentCount      int
	ReminderSentAt         *time.Time
	ReminderFailedAttempts int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.ExpiresAt.After(now)
}
