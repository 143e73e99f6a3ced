// Package rules contains the alert model, the crossing evaluator, and the
// trigger deduplicator.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
)

// RuleType is the closed set of supported alert rules.
type RuleType string

const (
	PriceAbove RuleType = "price_above"
	PriceBelow RuleType = "price_below"
	TrendUp    RuleType = "trend_up"
	TrendDown  RuleType = "trend_down"
)

// ParseRuleType validates a rule-type string.
func ParseRuleType(s string) (RuleType, error) {
	r := RuleType(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case PriceAbove, PriceBelow, TrendUp, TrendDown:
		return r, nil
	}
	return "", fmt.Errorf("unknown rule type %q", s)
}

// Valid reports whether the rule type is known.
func (r RuleType) Valid() bool {
	switch r {
	case PriceAbove, PriceBelow, TrendUp, TrendDown:
		return true
	}
	return false
}

// Status is an alert's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusTriggered Status = "triggered"
	StatusDisabled  Status = "disabled"
)

// Alert is one user-owned rule over one asset, denominated in the user's
// chosen currency. Alerts are created and disabled externally; the engine
// only moves status between active and triggered.
type Alert struct {
	ID              int64
	OwnerID         int64
	Asset           string
	Currency        market.Currency
	Rule            RuleType
	Karat           int
	Threshold       decimal.Decimal
	Status          Status
	CreatedAt       time.Time
	LastTriggeredAt *time.Time
}

// Evaluable reports whether the alert participates in evaluation at all.
func (a Alert) Evaluable() bool {
	return a.Status != StatusDisabled
}

var karat24 = decimal.NewFromInt(24)

// ScalePrice converts a 24k ounce price into the alert's karat grade.
// Karat 0 (unset) and 24 mean the raw price.
func (a Alert) ScalePrice(price24k decimal.Decimal) decimal.Decimal {
	if a.Karat <= 0 || a.Karat >= 24 {
		return price24k
	}
	return price24k.Mul(decimal.NewFromInt(int64(a.Karat))).Div(karat24)
}

// TriggerEvent is emitted at most once per genuine crossing.
type TriggerEvent struct {
	ID       string          `json:"id"`
	AlertID  int64           `json:"alert_id"`
	OwnerID  int64           `json:"owner_id"`
	Asset    string          `json:"asset"`
	Rule     RuleType        `json:"rule_type"`
	Price    decimal.Decimal `json:"price"`
	Currency market.Currency `json:"currency"`
	FiredAt  time.Time       `json:"fired_at"`
}
