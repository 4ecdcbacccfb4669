package wayforpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/set-night/subhook/internal/domain"
)

// Notification is an inbound serviceUrl callback. Values are kept as raw
// JSON so signature strings are built from the literals the provider sent.
type Notification struct {
	body   []byte
	fields map[string]json.RawMessage
}

func ParseNotification(body []byte) (*Notification, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return &Notification{body: body, fields: fields}, nil
}

// Raw returns the body exactly as received.
func (n *Notification) Raw() []byte { return n.body }

// Has reports whether key is present and not null.
func (n *Notification) Has(key string) bool {
	v, ok := n.fields[key]
	return ok && !isNull(v)
}

// String returns the textual form of a scalar field; numbers keep their
// literal spelling. Missing, null and composite values yield "".
func (n *Notification) String(key string) string {
	v, ok := n.fields[key]
	if !ok {
		return ""
	}
	s, _ := scalarText(v)
	return s
}

// Fields converts the payload into signable values. Null fields are treated
// as absent; arrays contribute each scalar element.
func (n *Notification) Fields() Fields {
	out := make(Fields, len(n.fields))
	for k, v := range n.fields {
		if isNull(v) {
			continue
		}
		if s, ok := scalarText(v); ok {
			out[k] = []string{s}
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil {
			continue
		}
		vals := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := scalarText(it); ok {
				vals = append(vals, s)
			}
		}
		out[k] = vals
	}
	return out
}

func (n *Notification) OrderReference() string  { return Normalize(n.String("orderReference")) }
func (n *Notification) MerchantAccount() string { return strings.TrimSpace(n.String("merchantAccount")) }
func (n *Notification) Signature() string       { return n.String("merchantSignature") }
func (n *Notification) Currency() string        { return strings.ToUpper(strings.TrimSpace(n.String("currency"))) }
func (n *Notification) TransactionStatus() string {
	return strings.TrimSpace(n.String("transactionStatus"))
}
func (n *Notification) RecToken() string { return n.String("recToken") }

// TransactionID prefers an explicit transactionId and falls back to rrn.
func (n *Notification) TransactionID() string {
	if id := n.String("transactionId"); id != "" {
		return id
	}
	return n.String("rrn")
}

func (n *Notification) Amount() (decimal.Decimal, error) {
	s := n.String("amount")
	if s == "" {
		return decimal.Zero, fmt.Errorf("parse amount: missing")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// ProcessingTime returns processingDate as a time; ok is false when the
// field is absent or unparseable.
func (n *Notification) ProcessingTime() (time.Time, bool) {
	s := strings.TrimSpace(n.String("processingDate"))
	if s == "" {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return time.Time{}, false
		}
		ts = int64(f)
	}
	return unixAuto(ts), true
}

// RegularCreated reports whether the provider set up a recurring schedule.
func (n *Notification) RegularCreated() bool {
	v, ok := n.fields["regularCreated"]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b
	}
	s, _ := scalarText(v)
	return strings.EqualFold(s, "true") || s == "1"
}

func (n *Notification) RegularMode() string { return n.String("regularMode") }

// Audit extracts the provider metadata kept on an invoice.
func (n *Notification) Audit() domain.InvoiceAudit {
	a := domain.InvoiceAudit{
		Phone:         n.String("phone"),
		Email:         n.String("email"),
		CardPan:       n.String("cardPan"),
		CardType:      n.String("cardType"),
		IssuerBank:    n.String("issuerBankName"),
		IssuerCountry: domain.NormalizeIssuerCountry(n.String("issuerBankCountry")),
		PaymentSystem: n.String("paymentSystem"),
		RRN:           n.String("rrn"),
		ApprovalCode:  n.String("approvalCode"),
		AuthCode:      n.String("authCode"),
		Terminal:      n.String("terminal"),
		ReasonCode:    n.String("reasonCode"),
	}
	if fee := n.String("fee"); fee != "" {
		if d, err := decimal.NewFromString(fee); err == nil {
			a.Fee = decimal.NewNullDecimal(d)
		}
	}
	return a
}

// CardMetadata is the subset used for fraud statistics.
func (n *Notification) CardMetadata() domain.CardMetadata {
	return domain.CardMetadata{
		CardMasked:    n.String("cardPan"),
		PaymentSystem: n.String("paymentSystem"),
		IssuerBank:    n.String("issuerBankName"),
	}
}

// MapStatus translates a provider transactionStatus. ok is false for
// intermediate statuses that must not move an invoice.
func MapStatus(s string) (domain.InvoiceStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPROVED":
		return domain.InvoiceStatusApproved, true
	case "DECLINED", "CANCELED":
		return domain.InvoiceStatusDeclined, true
	case "EXPIRED":
		return domain.InvoiceStatusExpired, true
	case "REFUNDED":
		return domain.InvoiceStatusRefunded, true
	case "VOIDED", "REVERSED":
		return domain.InvoiceStatusReversed, true
	case "CHARGEBACK":
		return domain.InvoiceStatusChargeback, true
	}
	return "", false
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}

func scalarText(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return "", false
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[':
		return "", false
	case 'n':
		return "", false
	case 't', 'f':
		return string(v), true
	}
	return string(v), true
}
