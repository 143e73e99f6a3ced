package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/rules"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listEvaluableAlertsSQL = `SELECT
        id,
        owner_id,
        asset,
        currency,
        rule_type,
        karat,
        threshold,
        status,
        created_at,
        last_triggered_at
    FROM alerts
    WHERE asset = $1
      AND status <> 'disabled'
    ORDER BY id;`

	applyTransitionSQL = `UPDATE alerts
    SET status = $2,
        last_triggered_at = COALESCE($3, last_triggered_at)
    WHERE id = $1;`

	resetAlertSQL = `UPDATE alerts
    SET status = 'active'
    WHERE id = $1
      AND status = 'triggered';`

	insertTriggerSQL = `INSERT INTO trigger_events (
        id,
        alert_id,
        owner_id,
        asset,
        rule_type,
        price,
        currency,
        fired_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (id) DO NOTHING;`

	listRecentTriggersSQL = `SELECT
        id,
        alert_id,
        owner_id,
        asset,
        rule_type,
        price,
        currency,
        fired_at,
        created_at
    FROM trigger_events
    ORDER BY fired_at DESC
    LIMIT $1;`

	upsertPriceSampleSQL = `INSERT INTO price_samples (
        observed_ts,
        asset,
        currency,
        price,
        price_usd
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (asset, observed_ts) DO UPDATE
    SET currency  = EXCLUDED.currency,
        price     = EXCLUDED.price,
        price_usd = EXCLUDED.price_usd;`

	listSamplesBetweenSQL = `SELECT
        observed_ts,
        asset,
        currency,
        price,
        price_usd,
        created_at
    FROM price_samples
    WHERE asset = $1
      AND observed_ts >= $2
      AND observed_ts < $3
    ORDER BY observed_ts;`

	countSamplesSQL = `SELECT COUNT(*) FROM price_samples WHERE asset = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertRepository defines the engine's view of alert persistence.
type AlertRepository interface {
	ListEvaluable(ctx context.Context, asset string) ([]rules.Alert, error)
	ApplyTransition(ctx context.Context, alertID int64, status rules.Status, triggeredAt *time.Time) error
	ResetAlert(ctx context.Context, alertID int64) error
}

// TriggerStore defines operations over the trigger audit log.
type TriggerStore interface {
	InsertTrigger(ctx context.Context, event rules.TriggerEvent) error
	ListRecentTriggers(ctx context.Context, limit int) ([]TriggerRecord, error)
}

// PriceSampleStore defines operations for tick history persistence.
type PriceSampleStore interface {
	UpsertPriceSample(ctx context.Context, sample PriceSample) error
	ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]PriceSample, error)
	CountSamples(ctx context.Context, asset string) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to alerts, trigger events, and price samples.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListEvaluable returns the non-disabled alerts for an asset.
func (s *Store) ListEvaluable(ctx context.Context, asset string) ([]rules.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEvaluableAlertsSQL, asset)
	if queryErr != nil {
		return nil, fmt.Errorf("list evaluable alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]rules.Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// ApplyTransition persists a status change decided by the engine.
func (s *Store) ApplyTransition(ctx context.Context, alertID int64, status rules.Status, triggeredAt *time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var firedAt interface{}
	if triggeredAt != nil {
		firedAt = *triggeredAt
	}

	cmdTag, execErr := pool.Exec(ctx, applyTransitionSQL, alertID, string(status), firedAt)
	if execErr != nil {
		return fmt.Errorf("apply alert transition: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ResetAlert re-arms a triggered alert on explicit external request.
func (s *Store) ResetAlert(ctx context.Context, alertID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, resetAlertSQL, alertID)
	if execErr != nil {
		return fmt.Errorf("reset alert: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// InsertTrigger appends a trigger event to the audit log. The event id is
// the conflict key, so a retried emission does not double-insert.
func (s *Store) InsertTrigger(ctx context.Context, event rules.TriggerEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertTriggerSQL,
		event.ID,
		event.AlertID,
		event.OwnerID,
		event.Asset,
		string(event.Rule),
		event.Price.String(),
		string(event.Currency),
		event.FiredAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert trigger: %w", execErr)
	}
	return nil
}

// ListRecentTriggers lists the most recent trigger events.
func (s *Store) ListRecentTriggers(ctx context.Context, limit int) ([]TriggerRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTriggersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent triggers: %w", queryErr)
	}
	defer rows.Close()

	records := make([]TriggerRecord, 0, limit)
	for rows.Next() {
		var rec TriggerRecord
		var priceStr, currencyStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.AlertID,
			&rec.OwnerID,
			&rec.Asset,
			&rec.RuleType,
			&priceStr,
			&currencyStr,
			&rec.FiredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse trigger price: %w", convErr)
		}
		rec.Price = price
		rec.Currency = market.Currency(currencyStr)

		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// UpsertPriceSample persists or updates a tick sample.
func (s *Store) UpsertPriceSample(ctx context.Context, sample PriceSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertPriceSampleSQL,
		sample.Observed,
		sample.Asset,
		string(sample.Currency),
		sample.Price.String(),
		sample.PriceUSD.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples for an asset within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, asset, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples for an asset.
func (s *Store) CountSamples(ctx context.Context, asset string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL, asset).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

func scanAlert(rows pgx.Rows) (rules.Alert, error) {
	var (
		alert        rules.Alert
		currencyStr  string
		ruleStr      string
		thresholdStr string
		statusStr    string
		lastFired    *time.Time
	)

	if err := rows.Scan(
		&alert.ID,
		&alert.OwnerID,
		&alert.Asset,
		&currencyStr,
		&ruleStr,
		&alert.Karat,
		&thresholdStr,
		&statusStr,
		&alert.CreatedAt,
		&lastFired,
	); err != nil {
		return rules.Alert{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return rules.Alert{}, fmt.Errorf("parse alert threshold: %w", err)
	}

	alert.Currency = market.Currency(currencyStr)
	alert.Rule = rules.RuleType(ruleStr)
	alert.Threshold = threshold
	alert.Status = rules.Status(statusStr)
	alert.LastTriggeredAt = lastFired

	return alert, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		sample      PriceSample
		currencyStr string
		priceStr    string
		priceUSDStr string
	)

	if err := rows.Scan(
		&sample.Observed,
		&sample.Asset,
		&currencyStr,
		&priceStr,
		&priceUSDStr,
		&sample.CreatedAt,
	); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse sample price: %w", err)
	}
	priceUSD, err := decimal.NewFromString(priceUSDStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse sample usd price: %w", err)
	}

	sample.Currency = market.Currency(currencyStr)
	sample.Price = price
	sample.PriceUSD = priceUSD

	return sample, nil
}
