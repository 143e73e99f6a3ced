// Package pricestate keeps a bounded, per-asset rolling history of price
// observations for crossing and trend evaluation.
package pricestate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gold-alert-engine/internal/market"
)

// ErrOutOfOrder is returned when an observation's timestamp is strictly
// older than the latest stored one for its asset.
var ErrOutOfOrder = errors.New("pricestate: observation out of order")

// Store holds the most recent observations per asset with ring-buffer
// eviction. History is partitioned by asset; there is no cross-asset state.
type Store struct {
	mu      sync.RWMutex
	maxSize int
	byAsset map[string]*ring
}

type ring struct {
	buf   []market.PriceObservation
	start int
	count int
}

// NewStore builds a store retaining at most maxSize observations per asset.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = 32
	}
	return &Store{
		maxSize: maxSize,
		byAsset: make(map[string]*ring),
	}
}

// Append stores an observation. Observations older than the current latest
// for the asset are rejected with ErrOutOfOrder; equal timestamps are
// accepted so an at-threshold tick repeated by the feed is not an error.
// Eviction of the oldest entry once the window is full is normal operation.
func (s *Store) Append(obs market.PriceObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byAsset[obs.Asset]
	if !ok {
		r = &ring{buf: make([]market.PriceObservation, s.maxSize)}
		s.byAsset[obs.Asset] = r
	}

	if r.count > 0 {
		latest := r.at(r.count - 1)
		if obs.Timestamp.Before(latest.Timestamp) {
			return fmt.Errorf("%w: %s at %s is older than latest %s",
				ErrOutOfOrder, obs.Asset,
				obs.Timestamp.UTC().Format(time.RFC3339Nano),
				latest.Timestamp.UTC().Format(time.RFC3339Nano))
		}
	}

	r.push(obs)
	return nil
}

// Latest returns the most recent observation for the asset, if any.
func (s *Store) Latest(asset string) (market.PriceObservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byAsset[asset]
	if !ok || r.count == 0 {
		return market.PriceObservation{}, false
	}
	return r.at(r.count - 1), true
}

// Window returns up to n most recent observations for the asset, oldest
// first.
func (s *Store) Window(asset string, n int) []market.PriceObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byAsset[asset]
	if !ok || r.count == 0 || n <= 0 {
		return nil
	}

	if n > r.count {
		n = r.count
	}
	out := make([]market.PriceObservation, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.at(i))
	}
	return out
}

// Len returns the number of stored observations for the asset.
func (s *Store) Len(asset string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byAsset[asset]
	if !ok {
		return 0
	}
	return r.count
}

func (r *ring) at(i int) market.PriceObservation {
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *ring) push(obs market.PriceObservation) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = obs
		r.count++
		return
	}
	r.buf[r.start] = obs
	r.start = (r.start + 1) % len(r.buf)
}
