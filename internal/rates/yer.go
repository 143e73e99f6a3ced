package rates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
)

// YERSynthesis fills in a USD->YER quote when the upstream provider has
// none. No canonical market quote exists for the rial, so deployments pin a
// reference rate (roughly 530 in recent data) and a regional adjustment
// factor. The synthetic quote is stamped fresh on every fetch; the
// normalizer treats it like any other rate.
type YERSynthesis struct {
	inner     Provider
	reference decimal.Decimal
	factor    decimal.Decimal
}

// WithYERSynthesis decorates a provider with the synthetic USD->YER quote.
func WithYERSynthesis(inner Provider, referenceRate, regionalFactor float64) *YERSynthesis {
	factor := regionalFactor
	if factor <= 0 {
		factor = 1
	}
	return &YERSynthesis{
		inner:     inner,
		reference: decimal.NewFromFloat(referenceRate),
		factor:    decimal.NewFromFloat(factor),
	}
}

// Fetch passes through the inner rates and appends the synthetic quote if
// USD->YER (or its inverse) is absent.
func (y *YERSynthesis) Fetch(ctx context.Context) ([]market.ConversionRate, error) {
	rates, err := y.inner.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	for _, r := range rates {
		if (r.From == market.USD && r.To == market.YER) || (r.From == market.YER && r.To == market.USD) {
			return rates, nil
		}
	}

	rates = append(rates, market.ConversionRate{
		From: market.USD,
		To:   market.YER,
		Rate: y.reference.Mul(y.factor),
		AsOf: time.Now().UTC(),
	})
	return rates, nil
}

var _ Provider = (*YERSynthesis)(nil)
