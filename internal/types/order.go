package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the local payment status of an order
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether no further regression is allowed from s
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// Currency is an ISO 4217 code accepted by the gateway
type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencySGD Currency = "SGD"
	CurrencyAED Currency = "AED"
)

// Valid reports whether c is one of the supported currencies
func (c Currency) Valid() bool {
	switch c {
	case CurrencyINR, CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencySGD, CurrencyAED:
		return true
	}
	return false
}

// Order is a payment order tracked by the relay.
// GatewayOrderID, Amount, Currency and CreatedAt never change after creation.
type Order struct {
	LocalOrderID   string          `json:"order_id"`
	GatewayOrderID string          `json:"gateway_order_id"`
	ClientID       string          `json:"client_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       Currency        `json:"currency"`
	Receipt        string          `json:"receipt,omitempty"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
