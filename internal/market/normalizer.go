package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrStaleRate indicates the only available rate is outside the
	// freshness window.
	ErrStaleRate = errors.New("conversion rate is stale")
	// ErrNoRate indicates no direct, inverse, or two-hop path exists.
	ErrNoRate = errors.New("no conversion path")
)

// NormalizedPrice is an observation re-denominated in a target currency,
// together with the effective rate that was applied. The rate can be reused
// to normalise sibling prices from the same snapshot.
type NormalizedPrice struct {
	Price    decimal.Decimal
	Currency Currency
	Rate     decimal.Decimal
	RateAsOf time.Time
}

// Apply converts another raw price with the same effective rate.
func (n NormalizedPrice) Apply(raw decimal.Decimal) decimal.Decimal {
	return raw.Mul(n.Rate)
}

// Normalizer converts observations across currencies against an immutable
// rate snapshot. It is a pure function of its inputs; any state lives in
// the snapshot handed to Normalize.
type Normalizer struct {
	freshness time.Duration
}

// NewNormalizer builds a normalizer enforcing the given freshness window.
// A zero window disables staleness checks.
func NewNormalizer(freshness time.Duration) *Normalizer {
	return &Normalizer{freshness: freshness}
}

// Normalize converts obs into target. Resolution order: identity, direct
// quote, inverse quote, two-hop through the base currency. Rates older than
// the freshness window fail with ErrStaleRate rather than silently using
// outdated data.
func (n *Normalizer) Normalize(snap *Snapshot, obs PriceObservation, target Currency, now time.Time) (NormalizedPrice, error) {
	if !target.Valid() {
		return NormalizedPrice{}, fmt.Errorf("normalize to %q: unsupported currency", target)
	}

	if obs.Currency == target {
		return NormalizedPrice{
			Price:    obs.Price,
			Currency: target,
			Rate:     decimal.NewFromInt(1),
			RateAsOf: obs.Timestamp,
		}, nil
	}

	rate, asOf, err := n.resolveRate(snap, obs.Currency, target, now)
	if err != nil {
		return NormalizedPrice{}, err
	}

	return NormalizedPrice{
		Price:    obs.Price.Mul(rate),
		Currency: target,
		Rate:     rate,
		RateAsOf: asOf,
	}, nil
}

func (n *Normalizer) resolveRate(snap *Snapshot, from, to Currency, now time.Time) (decimal.Decimal, time.Time, error) {
	if direct, ok := snap.Lookup(from, to); ok {
		if err := n.checkFresh(direct, now); err != nil {
			return decimal.Decimal{}, time.Time{}, err
		}
		return direct.Rate, direct.AsOf, nil
	}

	if reverse, ok := snap.Lookup(to, from); ok && !reverse.Rate.IsZero() {
		if err := n.checkFresh(reverse, now); err != nil {
			return decimal.Decimal{}, time.Time{}, err
		}
		return decimal.NewFromInt(1).Div(reverse.Rate), reverse.AsOf, nil
	}

	if from != BaseCurrency && to != BaseCurrency {
		first, firstAsOf, err := n.resolveRate(snap, from, BaseCurrency, now)
		if err != nil {
			return decimal.Decimal{}, time.Time{}, err
		}
		second, secondAsOf, err := n.resolveRate(snap, BaseCurrency, to, now)
		if err != nil {
			return decimal.Decimal{}, time.Time{}, err
		}
		asOf := firstAsOf
		if secondAsOf.Before(asOf) {
			asOf = secondAsOf
		}
		return first.Mul(second), asOf, nil
	}

	return decimal.Decimal{}, time.Time{}, fmt.Errorf("%s->%s: %w", from, to, ErrNoRate)
}

func (n *Normalizer) checkFresh(rate ConversionRate, now time.Time) error {
	if n.freshness <= 0 {
		return nil
	}
	if now.Sub(rate.AsOf) > n.freshness {
		return fmt.Errorf("%s->%s as of %s: %w", rate.From, rate.To, rate.AsOf.UTC().Format(time.RFC3339), ErrStaleRate)
	}
	return nil
}
