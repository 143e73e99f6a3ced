package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func aboveAlert(threshold string) Alert {
	return Alert{ID: 1, OwnerID: 1, Asset: "XAU", Currency: "USD", Rule: PriceAbove, Threshold: dec(threshold), Status: StatusActive}
}

func belowAlert(threshold string) Alert {
	return Alert{ID: 2, OwnerID: 1, Asset: "XAU", Currency: "USD", Rule: PriceBelow, Threshold: dec(threshold), Status: StatusActive}
}

func window(prices ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(prices))
	for i, p := range prices {
		out[i] = dec(p)
	}
	return out
}

func input(current string, previous *decimal.Decimal) Input {
	return Input{Current: dec(current), Previous: previous, At: time.Now()}
}

func TestPriceAboveCrossing(t *testing.T) {
	e := NewEvaluator(Options{})
	alert := aboveAlert("4000")

	cases := []struct {
		name     string
		current  string
		previous *decimal.Decimal
		want     Decision
	}{
		{"below to above fires", "4005", decPtr("3995"), Fire},
		{"staying above holds", "4010", decPtr("4005"), NoAction},
		{"above to below resets", "3990", decPtr("4010"), Reset},
		{"staying below holds", "3980", decPtr("3990"), NoAction},
		{"exactly at threshold fires", "4000", decPtr("3999.99"), Fire},
		{"at threshold from above holds", "4000", decPtr("4001"), NoAction},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Evaluate(alert, input(tc.current, tc.previous))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPriceBelowCrossing(t *testing.T) {
	e := NewEvaluator(Options{})
	alert := belowAlert("3800")

	got, err := e.Evaluate(alert, input("3795", decPtr("3805")))
	require.NoError(t, err)
	assert.Equal(t, Fire, got)

	got, err = e.Evaluate(alert, input("3805", decPtr("3795")))
	require.NoError(t, err)
	assert.Equal(t, Reset, got)

	// Tie counts as breached.
	got, err = e.Evaluate(alert, input("3800", decPtr("3801")))
	require.NoError(t, err)
	assert.Equal(t, Fire, got)
}

func TestThresholdFirstObservation(t *testing.T) {
	alert := aboveAlert("4000")

	eager := NewEvaluator(Options{FireOnFirstObservation: true})
	got, err := eager.Evaluate(alert, input("4100", nil))
	require.NoError(t, err)
	assert.Equal(t, Fire, got, "breached first observation should fire when enabled")

	quiet := NewEvaluator(Options{FireOnFirstObservation: false})
	got, err = quiet.Evaluate(alert, input("4100", nil))
	require.NoError(t, err)
	assert.Equal(t, NoAction, got, "breached first observation should stay quiet when disabled")

	// A non-breached first observation re-arms regardless of policy.
	got, err = eager.Evaluate(alert, input("3900", nil))
	require.NoError(t, err)
	assert.Equal(t, Reset, got)
}

func TestTrendUpFlip(t *testing.T) {
	e := NewEvaluator(Options{TrendWindow: 3})
	alert := Alert{ID: 3, Asset: "XAU", Currency: "USD", Rule: TrendUp, Status: StatusActive}

	// Falling then rising: slope over the last 3 turns positive while the
	// previous 3 were negative.
	in := Input{
		Current: dec("4010"),
		Window:  window("4020", "4010", "4000", "4005", "4010"),
		At:      time.Now(),
	}
	got, err := e.Evaluate(alert, in)
	require.NoError(t, err)
	assert.Equal(t, Fire, got)

	// Still rising: already in trend, no new crossing.
	in.Window = window("4000", "4005", "4010", "4015")
	got, err = e.Evaluate(alert, in)
	require.NoError(t, err)
	assert.Equal(t, NoAction, got)

	// Rising then falling resets.
	in.Window = window("4000", "4010", "4020", "4010", "4000")
	got, err = e.Evaluate(alert, in)
	require.NoError(t, err)
	assert.Equal(t, Reset, got)
}

func TestTrendDownFlip(t *testing.T) {
	e := NewEvaluator(Options{TrendWindow: 3})
	alert := Alert{ID: 4, Asset: "XAU", Currency: "USD", Rule: TrendDown, Status: StatusActive}

	in := Input{
		Current: dec("3990"),
		Window:  window("3980", "3990", "4000", "3995", "3990"),
		At:      time.Now(),
	}
	got, err := e.Evaluate(alert, in)
	require.NoError(t, err)
	assert.Equal(t, Fire, got)
}

func TestTrendShortWindowHolds(t *testing.T) {
	e := NewEvaluator(Options{TrendWindow: 5})
	alert := Alert{ID: 5, Asset: "XAU", Currency: "USD", Rule: TrendUp, Status: StatusActive}

	in := Input{Current: dec("4010"), Window: window("4000", "4005", "4010"), At: time.Now()}
	got, err := e.Evaluate(alert, in)
	require.NoError(t, err)
	assert.Equal(t, NoAction, got)
}

func TestTrendExactWindowFollowsFirstObservationPolicy(t *testing.T) {
	alert := Alert{ID: 6, Asset: "XAU", Currency: "USD", Rule: TrendUp, Status: StatusActive}
	in := Input{Current: dec("4010"), Window: window("4000", "4005", "4010"), At: time.Now()}

	eager := NewEvaluator(Options{TrendWindow: 3, FireOnFirstObservation: true})
	got, err := eager.Evaluate(alert, in)
	require.NoError(t, err)
	assert.Equal(t, Fire, got)

	quiet := NewEvaluator(Options{TrendWindow: 3})
	got, err = quiet.Evaluate(alert, in)
	require.NoError(t, err)
	assert.Equal(t, NoAction, got)
}

func TestUnknownRule(t *testing.T) {
	e := NewEvaluator(Options{})
	alert := Alert{ID: 7, Asset: "XAU", Currency: "USD", Rule: RuleType("percent_change"), Status: StatusActive}

	_, err := e.Evaluate(alert, input("4000", decPtr("3990")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRule))
}

func TestScalePrice(t *testing.T) {
	spot := dec("4000")

	alert := Alert{Karat: 21}
	scaled := alert.ScalePrice(spot)
	assert.True(t, scaled.Equal(dec("3500")), "21k of 4000 should be 3500, got %s", scaled)

	alert.Karat = 0
	assert.True(t, alert.ScalePrice(spot).Equal(spot))

	alert.Karat = 24
	assert.True(t, alert.ScalePrice(spot).Equal(spot))
}
