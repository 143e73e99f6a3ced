package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/engine"
	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/rules"
)

// SimulateOptions describe a scripted tick sequence against one alert.
type SimulateOptions struct {
	Asset     string
	Currency  market.Currency
	Rule      rules.RuleType
	Threshold decimal.Decimal
	Karat     int
	Prices    []decimal.Decimal
}

// Simulate 将一串模拟行情喂给真实引擎，打印每次触发结果。
// No database or broker is involved; rates come from the static config.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if len(opts.Prices) == 0 {
		return fmt.Errorf("at least one price is required")
	}

	provider, closeProvider, err := a.newRateProvider()
	if err != nil {
		return err
	}
	defer closeProvider()

	fetched, err := provider.Fetch(ctx)
	if err != nil {
		return err
	}
	table := market.NewTable()
	table.Publish(time.Now().UTC(), fetched)

	alertStore := newMemoryAlertStore(rules.Alert{
		ID:        1,
		Asset:     opts.Asset,
		Currency:  opts.Currency,
		Rule:      opts.Rule,
		Karat:     opts.Karat,
		Threshold: opts.Threshold,
		Status:    rules.StatusActive,
		CreatedAt: time.Now().UTC(),
	})
	sink := &loggingSink{}

	eng := engine.New(a.engineOptions(), table, alertStore, sink, nil, a.Logger)

	base := time.Now().UTC()
	for i, price := range opts.Prices {
		obs := market.PriceObservation{
			Asset:     opts.Asset,
			Currency:  market.USD,
			Price:     price,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := eng.Submit(ctx, obs); err != nil {
			eng.Close()
			return err
		}
	}
	eng.Close()

	fmt.Printf("ticks: %d, triggers: %d, final status: %s\n",
		len(opts.Prices), sink.count(), alertStore.status())
	return nil
}

type memoryAlertStore struct {
	mu    sync.Mutex
	alert rules.Alert
}

func newMemoryAlertStore(alert rules.Alert) *memoryAlertStore {
	return &memoryAlertStore{alert: alert}
}

func (m *memoryAlertStore) ListEvaluable(ctx context.Context, asset string) ([]rules.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alert.Asset != asset {
		return nil, nil
	}
	return []rules.Alert{m.alert}, nil
}

func (m *memoryAlertStore) ApplyTransition(ctx context.Context, alertID int64, status rules.Status, triggeredAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alert.ID == alertID {
		m.alert.Status = status
		if triggeredAt != nil {
			m.alert.LastTriggeredAt = triggeredAt
		}
	}
	return nil
}

func (m *memoryAlertStore) status() rules.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alert.Status
}

type loggingSink struct {
	mu    sync.Mutex
	fired int
}

func (s *loggingSink) Emit(ctx context.Context, event rules.TriggerEvent) error {
	s.mu.Lock()
	s.fired++
	s.mu.Unlock()
	fmt.Printf("TRIGGER %s: alert=%d rule=%s price=%s %s at=%s\n",
		event.ID, event.AlertID, event.Rule, event.Price.StringFixed(2), event.Currency,
		event.FiredAt.Format(time.RFC3339))
	return nil
}

func (s *loggingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

var _ engine.AlertStore = (*memoryAlertStore)(nil)
var _ engine.Sink = (*loggingSink)(nil)
