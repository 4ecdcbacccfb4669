package domain

import "github.com/shopspring/decimal"

type DeclineStats struct {
	Total    int64
	Declined int64
	Ratio    float64
}

type SuccessBurst struct {
	MerchantID int64
	PayerID    int64
	Count      int64
}

type AmountCurrencyMismatch struct {
	InvoiceID       int64
	OrderReference  string
	InvoiceAmount   decimal.Decimal
	PayloadAmount   *decimal.Decimal
	InvoiceCurrency string
	PayloadCurrency string
}
