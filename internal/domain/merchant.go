package domain

import "strings"

// Merchant is the per-bot provider configuration. MerchantID is the bot id.
type Merchant struct {
	MerchantID      int64
	Account         string
	SecretKey       string
	DomainName      string
	PayURL          string
	APIURL          string
	VerifySignature bool
	BotToken        string
}

func (m *Merchant) ReturnURL() string {
	return "https://" + strings.TrimSpace(m.DomainName) + "/api/payments/wayforpay/return/"
}

func (m *Merchant) ServiceURL() string {
	return "https://" + strings.TrimSpace(m.DomainName) + "/api/payments/wayforpay/webhook/"
}
