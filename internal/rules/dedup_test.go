package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicatorApply(t *testing.T) {
	cases := []struct {
		name       string
		policy     RearmPolicy
		status     Status
		decision   Decision
		wantStatus Status
		wantEmit   bool
	}{
		{"fire on active emits", RearmAuto, StatusActive, Fire, StatusTriggered, true},
		{"fire on triggered absorbed", RearmAuto, StatusTriggered, Fire, StatusTriggered, false},
		{"reset re-arms triggered", RearmAuto, StatusTriggered, Reset, StatusActive, false},
		{"reset on active is noop", RearmAuto, StatusActive, Reset, StatusActive, false},
		{"no action holds", RearmAuto, StatusActive, NoAction, StatusActive, false},
		{"manual policy keeps triggered", RearmManual, StatusTriggered, Reset, StatusTriggered, false},
		{"manual fire still emits", RearmManual, StatusActive, Fire, StatusTriggered, true},
		{"disabled ignores fire", RearmAuto, StatusDisabled, Fire, StatusDisabled, false},
		{"disabled ignores reset", RearmAuto, StatusDisabled, Reset, StatusDisabled, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDeduplicator(tc.policy)
			status, emit := d.Apply(tc.status, tc.decision)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantEmit, emit)
		})
	}
}

func TestDeduplicatorAtMostOncePerCrossing(t *testing.T) {
	d := NewDeduplicator(RearmAuto)

	// 3995 -> 4005 -> 4005 -> 3990 -> 4010 against price_above 4000:
	// two genuine crossings, two emissions.
	status := StatusActive
	emits := 0

	for _, decision := range []Decision{Fire, NoAction, Reset, Fire} {
		var emit bool
		status, emit = d.Apply(status, decision)
		if emit {
			emits++
		}
	}

	assert.Equal(t, 2, emits)
	assert.Equal(t, StatusTriggered, status)
}

func TestParseRearmPolicy(t *testing.T) {
	p, err := ParseRearmPolicy("auto")
	require.NoError(t, err)
	assert.Equal(t, RearmAuto, p)

	_, err = ParseRearmPolicy("once")
	require.Error(t, err)
}

func TestDefaultPolicyIsAuto(t *testing.T) {
	d := NewDeduplicator("")
	status, _ := d.Apply(StatusTriggered, Reset)
	assert.Equal(t, StatusActive, status)
}
