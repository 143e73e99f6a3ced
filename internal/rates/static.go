package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
)

// StaticRate is one configured conversion quote.
type StaticRate struct {
	From string
	To   string
	Rate float64
}

// Static serves rates straight from configuration. Intended for
// development and the simulate command; quotes are stamped fresh on every
// fetch.
type Static struct {
	rates []market.ConversionRate
}

// NewStatic validates and converts configured rates.
func NewStatic(configured []StaticRate) (*Static, error) {
	rates := make([]market.ConversionRate, 0, len(configured))
	for _, r := range configured {
		from, err := market.ParseCurrency(r.From)
		if err != nil {
			return nil, fmt.Errorf("static rate: %w", err)
		}
		to, err := market.ParseCurrency(r.To)
		if err != nil {
			return nil, fmt.Errorf("static rate: %w", err)
		}
		if r.Rate <= 0 {
			return nil, fmt.Errorf("static rate %s->%s must be positive", from, to)
		}
		rates = append(rates, market.ConversionRate{
			From: from,
			To:   to,
			Rate: decimal.NewFromFloat(r.Rate),
		})
	}
	return &Static{rates: rates}, nil
}

// Fetch returns the configured rates stamped with the current time.
func (s *Static) Fetch(ctx context.Context) ([]market.ConversionRate, error) {
	now := time.Now().UTC()
	out := make([]market.ConversionRate, len(s.rates))
	for i, r := range s.rates {
		r.AsOf = now
		out[i] = r
	}
	return out, nil
}

var _ Provider = (*Static)(nil)
