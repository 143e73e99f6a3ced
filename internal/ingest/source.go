// Package ingest adapts external tick transports into the engine's
// PriceObservation stream.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
)

// Handler consumes one observation. A non-nil error aborts the source.
type Handler func(ctx context.Context, obs market.PriceObservation) error

// Source delivers ticks in per-asset order until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, handle Handler) error
}

// tickFrame is the wire shape shared by the Kafka and websocket transports.
// Prices travel as decimal strings so no float rounding sneaks in.
type tickFrame struct {
	Asset     string    `json:"asset"`
	Currency  string    `json:"currency"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// DecodeTick parses a JSON tick frame into an observation.
func DecodeTick(payload []byte) (market.PriceObservation, error) {
	var frame tickFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return market.PriceObservation{}, fmt.Errorf("decode tick: %w", err)
	}

	if frame.Asset == "" {
		return market.PriceObservation{}, fmt.Errorf("decode tick: missing asset")
	}
	currency, err := market.ParseCurrency(frame.Currency)
	if err != nil {
		return market.PriceObservation{}, fmt.Errorf("decode tick: %w", err)
	}
	price, err := decimal.NewFromString(frame.Price)
	if err != nil {
		return market.PriceObservation{}, fmt.Errorf("decode tick price: %w", err)
	}
	if frame.Timestamp.IsZero() {
		return market.PriceObservation{}, fmt.Errorf("decode tick: missing timestamp")
	}

	return market.PriceObservation{
		Asset:     frame.Asset,
		Currency:  currency,
		Price:     price,
		Timestamp: frame.Timestamp,
	}, nil
}
