// Package wayforpay implements the provider side of the WayForPay contract:
// signatures, order references, notification payloads, acknowledgements and
// the invoice creation client.
package wayforpay

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Field orders fixed by the provider contract.
var (
	RequestSignatureKeys = []string{
		"merchantAccount",
		"merchantDomainName",
		"orderReference",
		"orderDate",
		"amount",
		"currency",
		"productName",
		"productCount",
		"productPrice",
	}

	ResponseSignatureKeys = []string{
		"merchantAccount",
		"orderReference",
		"amount",
		"currency",
		"authCode",
		"cardPan",
		"transactionStatus",
		"reasonCode",
	}
)

const fieldDelimiter = ";"

// Fields holds signable values; scalar fields have one element.
type Fields map[string][]string

func (f Fields) Set(key, value string) {
	f[key] = []string{value}
}

// ListExpansion selects how list-valued fields enter the signature string.
type ListExpansion int

const (
	// ExpandAll signs every element of a list in order.
	ExpandAll ListExpansion = iota
	// FirstOnly signs only the first element, as older contract versions did.
	FirstOnly
)

func ParseListExpansion(s string) (ListExpansion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ExpandAll, nil
	case "first":
		return FirstOnly, nil
	}
	return ExpandAll, fmt.Errorf("unknown signature list mode %q", s)
}

// Signer computes and checks provider signatures. The hash is a protocol
// constraint and is not exposed past this interface.
type Signer interface {
	Sign(fields Fields, keys []string) string
	Verify(fields Fields, keys []string, signature string) bool
}

type HMACMD5Signer struct {
	secret    []byte
	expansion ListExpansion
}

func NewSigner(secret string, expansion ListExpansion) *HMACMD5Signer {
	return &HMACMD5Signer{secret: []byte(secret), expansion: expansion}
}

// Sign joins the values of keys present in fields with ";" and returns the
// lowercase hex HMAC. Missing keys are skipped.
func (s *HMACMD5Signer) Sign(fields Fields, keys []string) string {
	mac := hmac.New(md5.New, s.secret)
	mac.Write([]byte(s.signatureString(fields, keys)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *HMACMD5Signer) Verify(fields Fields, keys []string, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	expected := s.Sign(fields, keys)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *HMACMD5Signer) signatureString(fields Fields, keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		values, ok := fields[k]
		if !ok {
			continue
		}
		if len(values) > 1 && s.expansion == FirstOnly {
			values = values[:1]
		}
		parts = append(parts, values...)
	}
	return strings.Join(parts, fieldDelimiter)
}
