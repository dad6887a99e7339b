package domain

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits a money amount may carry.
const MoneyScale = 2

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// IsValidCurrency reports whether c looks like an ISO-4217 code.
func IsValidCurrency(c string) bool {
	return currencyRe.MatchString(c)
}

// HasMoneyScale reports whether d carries no more than MoneyScale fractional digits.
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

// CurrencyTotal sums balances of a single currency.
type CurrencyTotal struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
}
