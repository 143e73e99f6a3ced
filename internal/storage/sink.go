package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/rules"
)

// TriggerSink adapts the trigger audit log to the engine's sink contract.
type TriggerSink struct {
	store *Store
}

// NewTriggerSink wraps a store.
func NewTriggerSink(store *Store) *TriggerSink {
	return &TriggerSink{store: store}
}

// Emit persists the trigger event.
func (t *TriggerSink) Emit(ctx context.Context, event rules.TriggerEvent) error {
	return t.store.InsertTrigger(ctx, event)
}

// SampleRecorder persists each accepted tick alongside its USD price.
type SampleRecorder struct {
	store *Store
}

// NewSampleRecorder wraps a store.
func NewSampleRecorder(store *Store) *SampleRecorder {
	return &SampleRecorder{store: store}
}

// RecordSample upserts the tick into price_samples.
func (r *SampleRecorder) RecordSample(ctx context.Context, obs market.PriceObservation, priceUSD decimal.Decimal) error {
	return r.store.UpsertPriceSample(ctx, PriceSample{
		Observed:  obs.Timestamp.UTC(),
		Asset:     obs.Asset,
		Currency:  obs.Currency,
		Price:     obs.Price,
		PriceUSD:  priceUSD,
		CreatedAt: time.Now().UTC(),
	})
}
