package domain

import "github.com/shopspring/decimal"

type Plan struct {
	ID           int64
	MerchantID   int64
	Name         string
	Price        decimal.Decimal
	Currency     string
	DurationDays int
	Enabled      bool
}
