// Package engine contains the alert evaluation loop: per-asset lanes that
// thread each tick through normalization, state update, rule evaluation,
// and trigger deduplication before emitting to the configured sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/metrics"
	"gold-alert-engine/internal/pricestate"
	"gold-alert-engine/internal/rules"
)

// ErrClosed is returned by Submit after Close has begun.
var ErrClosed = errors.New("engine: closed")

// AlertStore is the persistence collaborator for alert records. Disabled
// alerts must not be returned by ListEvaluable.
type AlertStore interface {
	ListEvaluable(ctx context.Context, asset string) ([]rules.Alert, error)
	ApplyTransition(ctx context.Context, alertID int64, status rules.Status, triggeredAt *time.Time) error
}

// Sink receives trigger events. The engine guarantees at most one Emit per
// genuine crossing; delivery beyond that is the sink's concern.
type Sink interface {
	Emit(ctx context.Context, event rules.TriggerEvent) error
}

// SampleRecorder optionally persists each accepted tick for history and
// export. May be nil.
type SampleRecorder interface {
	RecordSample(ctx context.Context, obs market.PriceObservation, priceUSD decimal.Decimal) error
}

// Options tune the engine.
type Options struct {
	HistoryWindow          int
	TrendWindow            int
	FireOnFirstObservation bool
	RearmPolicy            rules.RearmPolicy
	RateFreshness          time.Duration
	EmitRetries            int
	EmitBackoff            time.Duration
	LaneBuffer             int
	OpTimeout              time.Duration
}

func (o *Options) applyDefaults() {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 64
	}
	if o.TrendWindow < 2 {
		o.TrendWindow = 5
	}
	if o.LaneBuffer <= 0 {
		o.LaneBuffer = 16
	}
	if o.EmitBackoff <= 0 {
		o.EmitBackoff = 500 * time.Millisecond
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 10 * time.Second
	}
}

// Engine dispatches ticks to one strictly sequential lane per asset.
// Different assets are evaluated concurrently; within an asset, processing
// follows arrival order.
type Engine struct {
	opts       Options
	rates      *market.Table
	normalizer *market.Normalizer
	prices     *pricestate.Store
	evaluator  *rules.Evaluator
	dedup      *rules.Deduplicator
	alerts     AlertStore
	sink       Sink
	recorder   SampleRecorder
	logger     zerolog.Logger

	router *router
}

// New wires an engine. recorder may be nil.
func New(opts Options, rateTable *market.Table, alerts AlertStore, sink Sink, recorder SampleRecorder, logger zerolog.Logger) *Engine {
	opts.applyDefaults()

	e := &Engine{
		opts:       opts,
		rates:      rateTable,
		normalizer: market.NewNormalizer(opts.RateFreshness),
		prices:     pricestate.NewStore(opts.HistoryWindow),
		evaluator: rules.NewEvaluator(rules.Options{
			TrendWindow:            opts.TrendWindow,
			FireOnFirstObservation: opts.FireOnFirstObservation,
		}),
		dedup:    rules.NewDeduplicator(opts.RearmPolicy),
		alerts:   alerts,
		sink:     sink,
		recorder: recorder,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
	e.router = newRouter(opts.LaneBuffer, e.process)
	return e
}

// Submit routes a tick to its asset's lane, blocking while the lane buffer
// is full. Returns ErrClosed once shutdown has started.
func (e *Engine) Submit(ctx context.Context, obs market.PriceObservation) error {
	if obs.Asset == "" {
		return errors.New("engine: observation without asset")
	}
	if !obs.Currency.Valid() {
		return fmt.Errorf("engine: observation in unsupported currency %q", obs.Currency)
	}
	return e.router.submit(ctx, obs)
}

// Close stops accepting ticks and blocks until every lane has drained its
// in-flight work. Pending trigger decisions complete before lanes stop, so
// no emission that the deduplicator approved is lost to shutdown.
func (e *Engine) Close() {
	e.router.close()
}

// process runs inside a lane goroutine, strictly sequentially per asset.
// It deliberately uses its own deadline rather than an ingest context so
// that in-flight ticks finish even while shutdown is underway.
func (e *Engine) process(obs market.PriceObservation) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.OpTimeout)
	defer cancel()

	metrics.TicksProcessed.WithLabelValues(obs.Asset).Inc()
	log := e.logger.With().Str("asset", obs.Asset).Time("tick", obs.Timestamp).Logger()

	alerts, err := e.alerts.ListEvaluable(ctx, obs.Asset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list alerts; tick skipped")
		return
	}

	previous, hasPrevious := e.prices.Latest(obs.Asset)
	if err := e.prices.Append(obs); err != nil {
		if errors.Is(err, pricestate.ErrOutOfOrder) {
			metrics.TicksRejected.WithLabelValues(obs.Asset).Inc()
			log.Warn().Err(err).Msg("out-of-order tick rejected")
			return
		}
		log.Error().Err(err).Msg("failed to record tick")
		return
	}

	// One snapshot per pass; one conversion per distinct target currency.
	snapshot := e.rates.Load()
	now := time.Now().UTC()
	conversions := make(map[market.Currency]market.NormalizedPrice, 2)
	conversionErrs := make(map[market.Currency]error, 2)
	rawWindow := e.prices.Window(obs.Asset, e.opts.TrendWindow+1)

	for _, alert := range alerts {
		if !alert.Evaluable() {
			continue
		}
		metrics.AlertsEvaluated.Inc()

		norm, err := e.convert(snapshot, obs, alert.Currency, now, conversions, conversionErrs)
		if err != nil {
			metrics.NormalizationFailures.WithLabelValues(normalizationReason(err)).Inc()
			log.Warn().Err(err).Int64("alert_id", alert.ID).Msg("alert not evaluable on this tick")
			continue
		}

		decision, err := e.evaluator.Evaluate(alert, e.buildInput(alert, norm, previous, hasPrevious, rawWindow, obs.Timestamp))
		if err != nil {
			metrics.EvaluationFailures.Inc()
			log.Error().Err(err).Int64("alert_id", alert.ID).Msg("alert skipped")
			continue
		}

		e.applyDecision(ctx, log, alert, decision, norm, obs)
	}

	e.recordSample(ctx, log, snapshot, obs, now)
}

// convert memoises normalization per target currency within one pass.
func (e *Engine) convert(snapshot *market.Snapshot, obs market.PriceObservation, target market.Currency, now time.Time, hits map[market.Currency]market.NormalizedPrice, misses map[market.Currency]error) (market.NormalizedPrice, error) {
	if norm, ok := hits[target]; ok {
		return norm, nil
	}
	if err, ok := misses[target]; ok {
		return market.NormalizedPrice{}, err
	}

	norm, err := e.normalizer.Normalize(snapshot, obs, target, now)
	if err != nil {
		misses[target] = err
		return market.NormalizedPrice{}, err
	}
	hits[target] = norm
	return norm, nil
}

func (e *Engine) buildInput(alert rules.Alert, norm market.NormalizedPrice, previous market.PriceObservation, hasPrevious bool, rawWindow []market.PriceObservation, at time.Time) rules.Input {
	in := rules.Input{
		Current: alert.ScalePrice(norm.Price),
		At:      at,
	}

	if hasPrevious {
		prev := alert.ScalePrice(norm.Apply(previous.Price))
		in.Previous = &prev
	}

	if alert.Rule == rules.TrendUp || alert.Rule == rules.TrendDown {
		in.Window = make([]decimal.Decimal, 0, len(rawWindow))
		for _, w := range rawWindow {
			in.Window = append(in.Window, alert.ScalePrice(norm.Apply(w.Price)))
		}
	}

	return in
}

// applyDecision folds the decision through the deduplicator and, when a
// fire survives, emits before persisting the transition so that no
// triggered status exists without its event having been handed to the sink.
func (e *Engine) applyDecision(ctx context.Context, log zerolog.Logger, alert rules.Alert, decision rules.Decision, norm market.NormalizedPrice, obs market.PriceObservation) {
	newStatus, emit := e.dedup.Apply(alert.Status, decision)
	if !emit && newStatus == alert.Status {
		return
	}

	var firedAt *time.Time
	if emit {
		event := rules.TriggerEvent{
			ID:       uuid.NewString(),
			AlertID:  alert.ID,
			OwnerID:  alert.OwnerID,
			Asset:    alert.Asset,
			Rule:     alert.Rule,
			Price:    alert.ScalePrice(norm.Price),
			Currency: alert.Currency,
			FiredAt:  obs.Timestamp.UTC(),
		}
		if err := e.emitWithRetry(ctx, event); err != nil {
			// Without a delivered event the transition must not happen;
			// the next tick on the triggering side retries the crossing.
			metrics.EmissionFailures.Inc()
			log.Error().Err(err).Int64("alert_id", alert.ID).Str("event_id", event.ID).Msg("trigger emission abandoned")
			return
		}
		metrics.TriggersFired.WithLabelValues(string(alert.Rule)).Inc()
		log.Info().Int64("alert_id", alert.ID).Str("event_id", event.ID).
			Str("rule", string(alert.Rule)).Str("price", event.Price.String()).
			Msg("trigger fired")
		firedAt = &event.FiredAt
	}

	if err := e.alerts.ApplyTransition(ctx, alert.ID, newStatus, firedAt); err != nil {
		log.Error().Err(err).Int64("alert_id", alert.ID).
			Str("status", string(newStatus)).Msg("failed to persist alert transition")
	}
}

func (e *Engine) emitWithRetry(ctx context.Context, event rules.TriggerEvent) error {
	var err error
	for attempt := 0; attempt <= e.opts.EmitRetries; attempt++ {
		if attempt > 0 {
			metrics.EmissionRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.opts.EmitBackoff * time.Duration(attempt)):
			}
		}
		if err = e.sink.Emit(ctx, event); err == nil {
			return nil
		}
	}
	return err
}

func (e *Engine) recordSample(ctx context.Context, log zerolog.Logger, snapshot *market.Snapshot, obs market.PriceObservation, now time.Time) {
	if e.recorder == nil {
		return
	}
	norm, err := e.normalizer.Normalize(snapshot, obs, market.BaseCurrency, now)
	if err != nil {
		log.Debug().Err(err).Msg("sample not recorded; no usd conversion")
		return
	}
	if err := e.recorder.RecordSample(ctx, obs, norm.Price); err != nil {
		log.Warn().Err(err).Msg("failed to record price sample")
	}
}

func normalizationReason(err error) string {
	switch {
	case errors.Is(err, market.ErrStaleRate):
		return "stale_rate"
	case errors.Is(err, market.ErrNoRate):
		return "no_rate"
	}
	return "other"
}
