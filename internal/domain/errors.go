package domain

import "errors"

// Webhook reconciliation taxonomy. Everything except ErrRateLimited and
// ErrPersistenceFault is absorbed into a positive acknowledgement.
var (
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrReplayTooOld         = errors.New("notification older than replay ttl")
	ErrReferenceUndecodable = errors.New("order reference undecodable")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrForeignMerchant      = errors.New("foreign merchant account")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrAlreadyTerminal      = errors.New("invoice already terminal")
	ErrRateLimited          = errors.New("rate limited")
	ErrPersistenceFault     = errors.New("persistence fault")
)

var (
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrVerifiedPayerNotFound = errors.New("verified payer not found")
	ErrPlanNotFound          = errors.New("plan not found")
	ErrPlanDisabled          = errors.New("plan disabled")
	ErrMerchantNotFound      = errors.New("merchant config not found")
	ErrInvalidDuration       = errors.New("plan duration must be positive")
	ErrInvalidTransition     = errors.New("invalid invoice status transition")
)

// Absorbed reports whether err belongs to the part of the taxonomy that is
// answered with a success acknowledgement.
func Absorbed(err error) bool {
	if err == nil {
		return true
	}
	return !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrPersistenceFault)
}
