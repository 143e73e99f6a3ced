package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownRule marks an alert whose rule type the engine cannot handle.
// Treated as a configuration defect: the alert is skipped and flagged, the
// lane keeps running.
var ErrUnknownRule = errors.New("rules: unknown rule type")

// Decision classifies the state transition a single tick implies for one
// alert. The evaluator never mutates anything; the deduplicator applies
// decisions against the alert's current status.
type Decision int

const (
	NoAction Decision = iota
	Fire
	Reset
)

func (d Decision) String() string {
	switch d {
	case Fire:
		return "fire"
	case Reset:
		return "reset"
	default:
		return "no_action"
	}
}

// Input carries the price context for one alert on one tick. All prices are
// already normalised into the alert's currency and scaled to its karat.
type Input struct {
	// Current is the price of the tick under evaluation.
	Current decimal.Decimal
	// Previous is the price of the immediately preceding tick; nil when
	// this is the first stored observation for the asset.
	Previous *decimal.Decimal
	// Window is the rolling history, oldest first, including Current.
	Window []decimal.Decimal
	// At is the tick timestamp.
	At time.Time
}

// Options tune evaluation behaviour.
type Options struct {
	// TrendWindow is the number of observations a trend slope is fitted
	// over.
	TrendWindow int
	// FireOnFirstObservation fires threshold rules that are already
	// breached by the very first observation for an asset. Favours not
	// missing an existing breach on startup over suppressing a possibly
	// unwanted immediate fire.
	FireOnFirstObservation bool
}

// Evaluator classifies threshold crossings and trend flips.
type Evaluator struct {
	opts Options
}

// NewEvaluator builds an evaluator.
func NewEvaluator(opts Options) *Evaluator {
	if opts.TrendWindow < 2 {
		opts.TrendWindow = 5
	}
	return &Evaluator{opts: opts}
}

// Evaluate classifies one tick against one alert. Crossing semantics:
// price_above triggers at >= threshold and price_below at <= threshold, so
// a tick exactly at the threshold counts as breached on both sides of an
// opposing pair; repeated equal-price ticks are absorbed by the
// deduplicator, not here.
func (e *Evaluator) Evaluate(alert Alert, in Input) (Decision, error) {
	switch alert.Rule {
	case PriceAbove:
		return e.threshold(in, func(p decimal.Decimal) bool {
			return p.GreaterThanOrEqual(alert.Threshold)
		}), nil
	case PriceBelow:
		return e.threshold(in, func(p decimal.Decimal) bool {
			return p.LessThanOrEqual(alert.Threshold)
		}), nil
	case TrendUp:
		return e.trend(in, 1), nil
	case TrendDown:
		return e.trend(in, -1), nil
	}
	return NoAction, fmt.Errorf("%w: alert %d has %q", ErrUnknownRule, alert.ID, alert.Rule)
}

func (e *Evaluator) threshold(in Input, breached func(decimal.Decimal) bool) Decision {
	current := breached(in.Current)

	if in.Previous == nil {
		if current {
			if e.opts.FireOnFirstObservation {
				return Fire
			}
			return NoAction
		}
		// Re-arms a status left triggered by a previous run.
		return Reset
	}

	previous := breached(*in.Previous)
	switch {
	case !previous && current:
		return Fire
	case previous && !current:
		return Reset
	}
	return NoAction
}

// trend detects a slope-sign flip across the window boundary. want is +1
// for trend_up, -1 for trend_down.
func (e *Evaluator) trend(in Input, want int) Decision {
	n := e.opts.TrendWindow
	if len(in.Window) < n {
		return NoAction
	}

	current := slopeSign(in.Window[len(in.Window)-n:])
	if len(in.Window) < n+1 {
		if current == want && e.opts.FireOnFirstObservation {
			return Fire
		}
		return NoAction
	}

	previous := slopeSign(in.Window[len(in.Window)-n-1 : len(in.Window)-1])
	switch {
	case current == want && previous != want:
		return Fire
	case current != want:
		return Reset
	}
	return NoAction
}

// slopeSign returns the sign of the least-squares slope over the sequence.
func slopeSign(prices []decimal.Decimal) int {
	n := float64(len(prices))
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range prices {
		x := float64(i)
		y := p.InexactFloat64()
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	numerator := n*sumXY - sumX*sumY
	switch {
	case numerator > 0:
		return 1
	case numerator < 0:
		return -1
	}
	return 0
}
