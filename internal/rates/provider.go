// Package rates feeds the shared conversion-rate table from an external
// provider. Every successful fetch is published as a whole new snapshot.
package rates

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/metrics"
)

// Provider fetches the current conversion-rate set. Pull or push transport
// is the provider's business; the engine only consumes snapshots.
type Provider interface {
	Fetch(ctx context.Context) ([]market.ConversionRate, error)
}

// Poller periodically fetches rates and swaps them into the table.
type Poller struct {
	provider Provider
	table    *market.Table
	interval time.Duration
	logger   zerolog.Logger
}

// NewPoller builds a poller.
func NewPoller(provider Provider, table *market.Table, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		provider: provider,
		table:    table,
		interval: interval,
		logger:   logger.With().Str("component", "rate_poller").Logger(),
	}
}

// Run fetches once immediately, then on every interval until ctx is
// cancelled. Fetch failures keep the previous snapshot; the normalizer's
// freshness window decides when that snapshot stops being usable.
func (p *Poller) Run(ctx context.Context) error {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	fetched, err := p.provider.Fetch(ctx)
	if err != nil {
		metrics.RateFetchFailures.Inc()
		p.logger.Error().Err(err).Msg("rate fetch failed; keeping previous snapshot")
		return
	}

	version := p.table.Publish(time.Now().UTC(), fetched)
	metrics.RateSnapshotVersion.Set(float64(version))
	p.logger.Debug().Uint64("version", version).Int("pairs", len(fetched)).Msg("rate snapshot published")
}
