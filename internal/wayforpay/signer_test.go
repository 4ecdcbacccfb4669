package wayforpay

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hmacHex(secret, s string) string {
	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(s))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignerSign_JoinsOrderedKeysAndSkipsMissing(t *testing.T) {
	s := NewSigner("secret", ExpandAll)
	fields := Fields{}
	fields.Set("merchantAccount", "shop_1")
	fields.Set("orderReference", "ORDER_1758606042kjI_407673079_2")
	fields.Set("amount", "10")
	fields.Set("currency", "UAH")
	fields.Set("transactionStatus", "Approved")
	fields.Set("reasonCode", "1100")

	got := s.Sign(fields, ResponseSignatureKeys)
	want := hmacHex("secret", "shop_1;ORDER_1758606042kjI_407673079_2;10;UAH;Approved;1100")
	assert.Equal(t, want, got)
}

func TestSignerSign_ListExpansion(t *testing.T) {
	fields := Fields{
		"merchantAccount": {"shop_1"},
		"productName":     {"Basic", "Extra"},
		"productCount":    {"1", "2"},
	}
	keys := []string{"merchantAccount", "productName", "productCount"}

	all := NewSigner("k", ExpandAll).Sign(fields, keys)
	assert.Equal(t, hmacHex("k", "shop_1;Basic;Extra;1;2"), all)

	first := NewSigner("k", FirstOnly).Sign(fields, keys)
	assert.Equal(t, hmacHex("k", "shop_1;Basic;1"), first)
}

func TestSignerVerify(t *testing.T) {
	s := NewSigner("secret", ExpandAll)
	fields := Fields{}
	fields.Set("merchantAccount", "shop_1")
	fields.Set("orderReference", "R1")
	sig := s.Sign(fields, ResponseSignatureKeys)

	tests := []struct {
		name string
		sig  string
		want bool
	}{
		{"exact", sig, true},
		{"upper case", strings.ToUpper(sig), true},
		{"padded", "  " + sig + " ", true},
		{"empty", "", false},
		{"wrong", hmacHex("other", "shop_1;R1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Verify(fields, ResponseSignatureKeys, tt.sig))
		})
	}
}

func TestParseListExpansion(t *testing.T) {
	m, err := ParseListExpansion("")
	require.NoError(t, err)
	assert.Equal(t, ExpandAll, m)

	m, err = ParseListExpansion("FIRST")
	require.NoError(t, err)
	assert.Equal(t, FirstOnly, m)

	_, err = ParseListExpansion("middle")
	assert.Error(t, err)
}
