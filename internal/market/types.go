package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 style code for a supported denomination.
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	SAR Currency = "SAR"
	YER Currency = "YER"
)

// BaseCurrency is the pivot used for two-hop conversions.
const BaseCurrency = USD

var supportedCurrencies = map[Currency]struct{}{
	USD: {},
	EUR: {},
	SAR: {},
	YER: {},
}

// ParseCurrency validates and canonicalises a currency code.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := supportedCurrencies[c]; !ok {
		return "", fmt.Errorf("unsupported currency %q", code)
	}
	return c, nil
}

// Valid reports whether the currency is one of the supported codes.
func (c Currency) Valid() bool {
	_, ok := supportedCurrencies[c]
	return ok
}

// PriceObservation is one tick: the price of an asset in its native
// currency at an instant. Timestamps are expected to be non-decreasing
// per asset in the delivered stream.
type PriceObservation struct {
	Asset     string
	Currency  Currency
	Price     decimal.Decimal
	Timestamp time.Time
}

// ConversionRate quotes one unit of From in To as of a point in time.
type ConversionRate struct {
	From Currency
	To   Currency
	Rate decimal.Decimal
	AsOf time.Time
}
