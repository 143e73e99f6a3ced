package rules

import "fmt"

// RearmPolicy controls whether a triggered alert re-arms automatically
// when the price crosses back, or waits for an explicit external reset.
type RearmPolicy string

const (
	RearmAuto   RearmPolicy = "auto"
	RearmManual RearmPolicy = "manual"
)

// ParseRearmPolicy validates a policy string.
func ParseRearmPolicy(s string) (RearmPolicy, error) {
	switch RearmPolicy(s) {
	case RearmAuto, RearmManual:
		return RearmPolicy(s), nil
	}
	return "", fmt.Errorf("unknown re-arm policy %q", s)
}

// Deduplicator enforces at-most-once-per-crossing semantics. It is the
// only component that reads an alert's status when deciding whether a Fire
// decision actually emits.
type Deduplicator struct {
	policy RearmPolicy
}

// NewDeduplicator builds a deduplicator with the given re-arm policy.
func NewDeduplicator(policy RearmPolicy) *Deduplicator {
	if policy == "" {
		policy = RearmAuto
	}
	return &Deduplicator{policy: policy}
}

// Apply folds a decision into the current status. emit is true exactly when
// a trigger event must be sent: a Fire landing on an active alert. Fire on
// an already-triggered alert is absorbed, which is what makes duplicate and
// tied ticks within one crossing safe.
func (d *Deduplicator) Apply(status Status, decision Decision) (Status, bool) {
	if status == StatusDisabled {
		return status, false
	}

	switch decision {
	case Fire:
		if status == StatusActive {
			return StatusTriggered, true
		}
		return status, false
	case Reset:
		if status == StatusTriggered && d.policy == RearmAuto {
			return StatusActive, false
		}
		return status, false
	}
	return status, false
}
