package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/rules"
)

type memoryAlerts struct {
	mu     sync.Mutex
	alerts map[int64]rules.Alert
}

func newMemoryAlerts(alerts ...rules.Alert) *memoryAlerts {
	m := &memoryAlerts{alerts: make(map[int64]rules.Alert, len(alerts))}
	for _, a := range alerts {
		m.alerts[a.ID] = a
	}
	return m
}

func (m *memoryAlerts) ListEvaluable(ctx context.Context, asset string) ([]rules.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []rules.Alert
	for _, a := range m.alerts {
		if a.Asset == asset && a.Status != rules.StatusDisabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryAlerts) ApplyTransition(ctx context.Context, alertID int64, status rules.Status, triggeredAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[alertID]
	if !ok {
		return errors.New("alert not found")
	}
	a.Status = status
	if triggeredAt != nil {
		a.LastTriggeredAt = triggeredAt
	}
	m.alerts[alertID] = a
	return nil
}

func (m *memoryAlerts) status(alertID int64) rules.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts[alertID].Status
}

type captureSink struct {
	mu       sync.Mutex
	events   []rules.TriggerEvent
	failures int // Emit errors to return before succeeding
}

func (s *captureSink) Emit(ctx context.Context, event rules.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) captured() []rules.TriggerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rules.TriggerEvent(nil), s.events...)
}

func usdTable(t *testing.T) *market.Table {
	t.Helper()
	table := market.NewTable()
	table.Publish(time.Now().UTC(), []market.ConversionRate{
		{From: market.USD, To: market.EUR, Rate: decimal.RequireFromString("0.9"), AsOf: time.Now().UTC()},
	})
	return table
}

func newTestEngine(t *testing.T, table *market.Table, alerts *memoryAlerts, sink Sink) *Engine {
	t.Helper()
	opts := Options{
		HistoryWindow: 16,
		TrendWindow:   3,
		RearmPolicy:   rules.RearmAuto,
		RateFreshness: 15 * time.Minute,
		EmitBackoff:   time.Millisecond,
		OpTimeout:     5 * time.Second,
	}
	return New(opts, table, alerts, sink, nil, zerolog.Nop())
}

func feed(t *testing.T, eng *Engine, asset string, start time.Time, prices ...string) {
	t.Helper()
	for i, p := range prices {
		obs := market.PriceObservation{
			Asset:     asset,
			Currency:  market.USD,
			Price:     decimal.RequireFromString(p),
			Timestamp: start.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, eng.Submit(context.Background(), obs))
	}
}

func TestEngineFiresOncePerCrossing(t *testing.T) {
	alerts := newMemoryAlerts(rules.Alert{
		ID: 1, OwnerID: 10, Asset: "XAU", Currency: market.USD,
		Rule: rules.PriceAbove, Threshold: decimal.RequireFromString("4000"),
		Status: rules.StatusActive,
	})
	sink := &captureSink{}
	eng := newTestEngine(t, usdTable(t), alerts, sink)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed(t, eng, "XAU", start, "3995", "4005", "3990", "4010")
	eng.Close()

	events := sink.captured()
	require.Len(t, events, 2, "two crossings, two triggers")
	assert.True(t, events[0].Price.Equal(decimal.RequireFromString("4005")))
	assert.True(t, events[1].Price.Equal(decimal.RequireFromString("4010")))
	assert.Equal(t, int64(1), events[0].AlertID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, rules.StatusTriggered, alerts.status(1))
}

func TestEngineAbsorbsRepeatedBreaches(t *testing.T) {
	alerts := newMemoryAlerts(rules.Alert{
		ID: 1, OwnerID: 10, Asset: "XAU", Currency: market.USD,
		Rule: rules.PriceAbove, Threshold: decimal.RequireFromString("4000"),
		Status: rules.StatusActive,
	})
	sink := &captureSink{}
	eng := newTestEngine(t, usdTable(t), alerts, sink)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed(t, eng, "XAU", start, "3995", "4005", "4005", "4020", "4001")
	eng.Close()

	assert.Len(t, sink.captured(), 1)
}

func TestEngineStaleRateIsolatesAlert(t *testing.T) {
	// Two alerts on the same asset: the USD one must keep working while
	// the EUR one is starved of a fresh rate.
	alerts := newMemoryAlerts(
		rules.Alert{
			ID: 1, OwnerID: 10, Asset: "XAU", Currency: market.USD,
			Rule: rules.PriceAbove, Threshold: decimal.RequireFromString("4000"),
			Status: rules.StatusActive,
		},
		rules.Alert{
			ID: 2, OwnerID: 11, Asset: "XAU", Currency: market.EUR,
			Rule: rules.PriceAbove, Threshold: decimal.RequireFromString("3600"),
			Status: rules.StatusActive,
		},
	)

	table := market.NewTable()
	table.Publish(time.Now().UTC(), []market.ConversionRate{
		{From: market.USD, To: market.EUR, Rate: decimal.RequireFromString("0.9"), AsOf: time.Now().Add(-time.Hour)},
	})

	sink := &captureSink{}
	eng := newTestEngine(t, table, alerts, sink)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed(t, eng, "XAU", start, "3995", "4005")
	eng.Close()

	events := sink.captured()
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].AlertID)
	assert.Equal(t, rules.StatusActive, alerts.status(2), "starved alert keeps its status")
}

func TestEngineRejectsOutOfOrderTick(t *testing.T) {
	alerts := newMemoryAlerts(rules.Alert{
		ID: 1, OwnerID: 10, Asset: "XAU", Currency: market.USD,
		Rule: rules.PriceAbove, Threshold: decimal.RequireFromString("4000"),
		Status: rules.StatusActive,
	})
	sink := &captureSink{}
	eng := newTestEngine(t, usdTable(t), alerts, sink)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	obs := func(price string, ts time.Time) market.PriceObservation {
		return market.PriceObservation{Asset: "XAU", Currency: market.USD, Price: decimal.RequireFromString(price), Timestamp: ts}
	}

	require.NoError(t, eng.Submit(context.Background(), obs("3995", start)))
	// Older than the stored latest; must not fire even though it would
	// read as a crossing if accepted.
	require.NoError(t, eng.Submit(context.Background(), obs("4005", start.Add(-time.Minute))))
	require.NoError(t, eng.Submit(context.Background(), obs("3990", start.Add(time.Second))))
	eng.Close()

	assert.Empty(t, sink.captured())
}

func TestEngineEmitRetrySucceeds(t *testing.T) {
	alerts := newMemoryAlerts(rules.Alert{
		ID: 1, OwnerID: 10, Asset: "XAU", Currency: market.USD,
		Rule: rules.PriceAbove, Threshold: decimal.RequireFromString("4000"),
		Status: rules.StatusActive,
	})
	sink := &captureSink{failures: 2}
	table := usdTable(t)

	opts := Options{
		HistoryWindow: 16,
		TrendWindow:   3,
		RearmPolicy:   rules.RearmAuto,
		EmitRetries:   3,
		EmitBackoff:   time.Millisecond,
		OpTimeout:     5 * time.Second,
	}
	eng := New(opts, table, alerts, sink, nil, zerolog.Nop())

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed(t, eng, "XAU", start, "3995", "4005")
	eng.Close()

	require.Len(t, sink.captured(), 1)
	assert.Equal(t, rules.StatusTriggered, alerts.status(1))
}

func TestEngineAbandonedEmissionBlocksTransition(t *testing.T) {
	alerts := newMemoryAlerts(rules.Alert{
		ID: 1, OwnerID: 10, Asset: "XAU", Currency: market.USD,
		Rule: rules.PriceAbove, Threshold: decimal.RequireFromString("4000"),
		Status: rules.StatusActive,
	})
	sink := &captureSink{failures: 100}
	table := usdTable(t)

	opts := Options{
		HistoryWindow: 16,
		TrendWindow:   3,
		RearmPolicy:   rules.RearmAuto,
		EmitRetries:   1,
		EmitBackoff:   time.Millisecond,
		OpTimeout:     5 * time.Second,
	}
	eng := New(opts, table, alerts, sink, nil, zerolog.Nop())

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed(t, eng, "XAU", start, "3995", "4005")
	eng.Close()

	assert.Empty(t, sink.captured())
	assert.Equal(t, rules.StatusActive, alerts.status(1), "alert stays active so the crossing can retry")
}

func TestEngineKaratScaling(t *testing.T) {
	// 21k threshold of 3500 corresponds to a 24k spot of 4000.
	alerts := newMemoryAlerts(rules.Alert{
		ID: 1, OwnerID: 10, Asset: "XAU", Currency: market.USD, Karat: 21,
		Rule: rules.PriceAbove, Threshold: decimal.RequireFromString("3500"),
		Status: rules.StatusActive,
	})
	sink := &captureSink{}
	eng := newTestEngine(t, usdTable(t), alerts, sink)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	feed(t, eng, "XAU", start, "3995", "4005")
	eng.Close()

	events := sink.captured()
	require.Len(t, events, 1)
	// 4005 * 21/24 = 3504.375
	assert.True(t, events[0].Price.Equal(decimal.RequireFromString("3504.375")), "got %s", events[0].Price)
}

func TestEngineSubmitAfterClose(t *testing.T) {
	eng := newTestEngine(t, usdTable(t), newMemoryAlerts(), &captureSink{})
	eng.Close()

	err := eng.Submit(context.Background(), market.PriceObservation{
		Asset:     "XAU",
		Currency:  market.USD,
		Price:     decimal.RequireFromString("4000"),
		Timestamp: time.Now(),
	})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestEngineValidatesObservation(t *testing.T) {
	eng := newTestEngine(t, usdTable(t), newMemoryAlerts(), &captureSink{})
	defer eng.Close()

	err := eng.Submit(context.Background(), market.PriceObservation{
		Currency: market.USD, Price: decimal.NewFromInt(1), Timestamp: time.Now(),
	})
	require.Error(t, err)

	err = eng.Submit(context.Background(), market.PriceObservation{
		Asset: "XAU", Currency: market.Currency("GBP"), Price: decimal.NewFromInt(1), Timestamp: time.Now(),
	})
	require.Error(t, err)
}

type recordingSampler struct {
	mu      sync.Mutex
	samples []decimal.Decimal
}

func (r *recordingSampler) RecordSample(ctx context.Context, obs market.PriceObservation, priceUSD decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, priceUSD)
	return nil
}

func TestEngineRecordsUSDSamples(t *testing.T) {
	alerts := newMemoryAlerts()
	recorder := &recordingSampler{}
	table := usdTable(t)

	opts := Options{HistoryWindow: 16, TrendWindow: 3, OpTimeout: 5 * time.Second, EmitBackoff: time.Millisecond}
	eng := New(opts, table, alerts, &captureSink{}, recorder, zerolog.Nop())

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, eng.Submit(context.Background(), market.PriceObservation{
		Asset: "XAU", Currency: market.EUR, Price: decimal.RequireFromString("3600"), Timestamp: start,
	}))
	eng.Close()

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.samples, 1)
	// 3600 EUR back through the inverse of USD->EUR 0.9 is 4000 USD.
	assert.True(t, recorder.samples[0].Sub(decimal.RequireFromString("4000")).Abs().LessThan(decimal.RequireFromString("0.000001")), "got %s", recorder.samples[0])
}

func TestEngineTrendRule(t *testing.T) {
	alerts := newMemoryAlerts(rules.Alert{
		ID: 1, OwnerID: 10, Asset: "XAU", Currency: market.USD,
		Rule: rules.TrendUp, Status: rules.StatusActive,
	})
	sink := &captureSink{}
	eng := newTestEngine(t, usdTable(t), alerts, sink)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Downtrend first, then a sustained rise: exactly one trend_up fire.
	feed(t, eng, "XAU", start, "4020", "4010", "4000", "3990", "3995", "4000", "4005")
	eng.Close()

	events := sink.captured()
	require.Len(t, events, 1)
	assert.Equal(t, rules.TrendUp, events[0].Rule)
}
