package engine

import (
	"context"
	"sync"

	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/metrics"
)

// router owns the per-asset lanes. A lane is a buffered channel consumed by
// a single goroutine, which is what makes evaluation for one asset strictly
// sequential while assets proceed independently.
type router struct {
	buffer  int
	process func(market.PriceObservation)

	mu     sync.Mutex
	lanes  map[string]chan market.PriceObservation
	closed bool
	done   chan struct{}

	// senders counts submits between lane lookup and completed send, so
	// close never closes a channel a sender could still write to.
	senders sync.WaitGroup
	wg      sync.WaitGroup
}

func newRouter(buffer int, process func(market.PriceObservation)) *router {
	return &router{
		buffer:  buffer,
		process: process,
		lanes:   make(map[string]chan market.PriceObservation),
		done:    make(chan struct{}),
	}
}

func (r *router) submit(ctx context.Context, obs market.PriceObservation) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	lane := r.laneLocked(obs.Asset)
	r.senders.Add(1)
	r.mu.Unlock()
	defer r.senders.Done()

	select {
	case lane <- obs:
		return nil
	case <-r.done:
		// Shutdown started while we were parked on a full lane.
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *router) laneLocked(asset string) chan market.PriceObservation {
	lane, ok := r.lanes[asset]
	if ok {
		return lane
	}

	lane = make(chan market.PriceObservation, r.buffer)
	r.lanes[asset] = lane
	r.wg.Add(1)
	metrics.ActiveLanes.Inc()
	go r.run(lane)
	return lane
}

func (r *router) run(lane chan market.PriceObservation) {
	defer func() {
		metrics.ActiveLanes.Dec()
		r.wg.Done()
	}()
	for obs := range lane {
		r.process(obs)
	}
}

// close stops intake, lets every lane drain, and waits for them to exit.
// Closing done first releases senders blocked on full lanes; the lane
// channels are only closed once no sender remains in flight.
func (r *router) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.senders.Wait()

	r.mu.Lock()
	for _, lane := range r.lanes {
		close(lane)
	}
	r.mu.Unlock()

	r.wg.Wait()
}
