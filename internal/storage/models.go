package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
)

// PriceSample is a persisted tick, kept for history, charts, and exports.
type PriceSample struct {
	Observed  time.Time
	Asset     string
	Currency  market.Currency
	Price     decimal.Decimal
	PriceUSD  decimal.Decimal
	CreatedAt time.Time
}

// TriggerRecord captures an emitted trigger event for auditing.
type TriggerRecord struct {
	ID        string
	AlertID   int64
	OwnerID   int64
	Asset     string
	RuleType  string
	Price     decimal.Decimal
	Currency  market.Currency
	FiredAt   time.Time
	CreatedAt time.Time
}
