package billing

import (
	"errors"

	"golang.org/x/text/currency"
)

// Status represents the lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// BillingInterval represents the billing frequency of a price.
type BillingInterval string

const (
	BillingIntervalNone    BillingInterval = "none" // free tiers with no billing
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// Money represents a monetary amount in the smallest currency unit.
// $10.99 USD is Money{Amount: 1099, Currency: "USD"}.
type Money struct {
	Amount   int64  // amount in smallest currency unit (cents for USD)
	Currency string // ISO 4217 currency code
}

// NewMoney validates the currency code and returns a normalized Money value.
func NewMoney(amount int64, code string) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, errors.Join(ErrInvalidCurrency, err)
	}
	return Money{Amount: amount, Currency: unit.String()}, nil
}
