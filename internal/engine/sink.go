package engine

import (
	"context"
	"errors"

	"gold-alert-engine/internal/rules"
)

// Fanout delivers every event to all sinks. Emit fails if any sink fails,
// which lets the dispatcher's retry cover partial delivery; sinks that have
// already accepted the event are expected to tolerate a repeat.
type Fanout []Sink

// Emit sends the event to each sink in order.
func (f Fanout) Emit(ctx context.Context, event rules.TriggerEvent) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Sink = (Fanout)(nil)
