package tab

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 currency code as used by the Tab API.
type Currency string

const (
	CurrencyUSD Currency = "USD"
)

// DefaultCurrency is used when a Tab or price omits its currency.
const DefaultCurrency = CurrencyUSD

// Normalize upper-cases the code and falls back to DefaultCurrency.
func (c Currency) Normalize() Currency {
	code := strings.ToUpper(strings.TrimSpace(string(c)))
	if code == "" {
		return DefaultCurrency
	}
	return Currency(code)
}

// Price is an amount in minor currency units (cents for USD).
type Price struct {
	Amount   int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// String renders the price for display, e.g. "$0.50".
func (p Price) String() string {
	return FormatAmount(p.Amount, p.Currency)
}

// FormatAmount renders a minor-unit amount in the given currency.
func FormatAmount(amount int64, currency Currency) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	major, minor := amount/100, amount%100
	switch currency.Normalize() {
	case CurrencyUSD:
		return fmt.Sprintf("%s$%d.%02d", sign, major, minor)
	default:
		return fmt.Sprintf("%s%d.%02d %s", sign, major, minor, currency.Normalize())
	}
}
