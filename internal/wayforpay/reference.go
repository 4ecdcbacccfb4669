package wayforpay

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Reference formats, newest first.
const (
	FormatOrder            = "order"
	FormatWFPDash          = "wfp-dash"
	FormatLegacyUnderscore = "legacy-underscore"
)

const (
	orderPrefix     = "ORDER_"
	wfpDashPrefix   = "WFP-"
	recurringMarker = "_WFPREG-"

	nonceLen      = 3
	nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var errNotThisFormat = errors.New("not this format")

// FormatError is returned by Decode when no known reference shape matches.
type FormatError struct {
	Reference string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unrecognized order reference %q", e.Reference)
}

// Reference is a decoded order reference. MerchantID is zero for formats
// that do not embed it.
type Reference struct {
	Raw        string
	Base       string
	PayerID    int64
	PlanID     int64
	MerchantID int64
	IssuedAt   time.Time
	Format     string
	Recurring  bool
	Attempt    int
}

type decodeStrategy struct {
	name  string
	parse func(s string) (Reference, error)
}

// Codec encodes and decodes order references.
type Codec struct {
	rand       io.Reader
	strategies []decodeStrategy
}

func NewCodec() *Codec {
	return NewCodecWithRand(rand.Reader)
}

// NewCodecWithRand uses r as the nonce source.
func NewCodecWithRand(r io.Reader) *Codec {
	return &Codec{
		rand: r,
		strategies: []decodeStrategy{
			{FormatOrder, parseOrderFormat},
			{FormatWFPDash, parseWFPDashFormat},
			{FormatLegacyUnderscore, parseLegacyUnderscoreFormat},
		},
	}
}

// Encode builds ORDER_<unix><nonce>_<payer>_<plan>. The merchant stays out
// of the reference and is resolved through the invoice row.
func (c *Codec) Encode(merchantID, payerID, planID int64, issuedAt time.Time) (string, error) {
	nonce, err := c.nonce()
	if err != nil {
		return "", fmt.Errorf("generate reference nonce: %w", err)
	}
	return fmt.Sprintf("%s%d%s_%d_%d", orderPrefix, issuedAt.Unix(), nonce, payerID, planID), nil
}

func (c *Codec) nonce() (string, error) {
	buf := make([]byte, nonceLen)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(buf), nil
}

// Decode tries every known format in order. A recurring suffix is split off
// first so the decoded fields describe the base reference.
func (c *Codec) Decode(ref string) (Reference, error) {
	raw := Normalize(ref)
	base, attempt, recurring := SplitRecurring(raw)

	for _, st := range c.strategies {
		r, err := st.parse(base)
		if errors.Is(err, errNotThisFormat) {
			continue
		}
		if err != nil {
			return Reference{}, err
		}
		r.Raw = raw
		r.Base = base
		r.Format = st.name
		r.Recurring = recurring
		r.Attempt = attempt
		return r, nil
	}
	return Reference{}, &FormatError{Reference: raw}
}

// Normalize trims whitespace and the trailing ";" some gateways append.
func Normalize(ref string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(ref), ";"))
}

// SplitRecurring strips a _WFPREG-<n> suffix. recurring is true whenever the
// marker is present, even if the attempt number is not numeric.
func SplitRecurring(ref string) (base string, attempt int, recurring bool) {
	idx := strings.Index(ref, recurringMarker)
	if idx < 0 {
		return ref, 0, false
	}
	n, err := strconv.Atoi(ref[idx+len(recurringMarker):])
	if err != nil {
		n = 0
	}
	return ref[:idx], n, true
}

func parseOrderFormat(s string) (Reference, error) {
	if !strings.HasPrefix(s, orderPrefix) {
		return Reference{}, errNotThisFormat
	}
	parts := strings.Split(strings.TrimPrefix(s, orderPrefix), "_")
	if len(parts) != 3 || len(parts[0]) < 10 {
		return Reference{}, errNotThisFormat
	}
	ts, err := strconv.ParseInt(parts[0][:10], 10, 64)
	if err != nil {
		return Reference{}, errNotThisFormat
	}
	payer, plan, ok := parseIDs(parts[1], parts[2])
	if !ok {
		return Reference{}, errNotThisFormat
	}
	return Reference{PayerID: payer, PlanID: plan, IssuedAt: time.Unix(ts, 0).UTC()}, nil
}

func parseWFPDashFormat(s string) (Reference, error) {
	if !strings.HasPrefix(s, wfpDashPrefix) {
		return Reference{}, errNotThisFormat
	}
	parts := strings.Split(strings.TrimPrefix(s, wfpDashPrefix), "-")
	if len(parts) != 4 {
		return Reference{}, errNotThisFormat
	}
	return parseMerchantPayerPlanTS(parts[0], parts[1], parts[2], parts[3])
}

func parseLegacyUnderscoreFormat(s string) (Reference, error) {
	parts := strings.Split(s, "_")
	switch len(parts) {
	case 4:
	case 5:
		if !isHex(parts[4], 6) {
			return Reference{}, errNotThisFormat
		}
	default:
		return Reference{}, errNotThisFormat
	}
	return parseMerchantPayerPlanTS(parts[0], parts[1], parts[2], parts[3])
}

func parseMerchantPayerPlanTS(merchantS, payerS, planS, tsS string) (Reference, error) {
	merchant, err := strconv.ParseInt(merchantS, 10, 64)
	if err != nil {
		return Reference{}, errNotThisFormat
	}
	payer, plan, ok := parseIDs(payerS, planS)
	if !ok {
		return Reference{}, errNotThisFormat
	}
	ts, err := strconv.ParseInt(tsS, 10, 64)
	if err != nil || ts <= 0 {
		return Reference{}, errNotThisFormat
	}
	return Reference{
		MerchantID: merchant,
		PayerID:    payer,
		PlanID:     plan,
		IssuedAt:   unixAuto(ts),
	}, nil
}

func parseIDs(payerS, planS string) (int64, int64, bool) {
	payer, err := strconv.ParseInt(payerS, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	plan, err := strconv.ParseInt(planS, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return payer, plan, true
}

// unixAuto accepts both second and millisecond timestamps.
func unixAuto(ts int64) time.Time {
	if ts >= 1e12 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
