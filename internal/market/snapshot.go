package market

import (
	"sync/atomic"
	"time"
)

type pair struct {
	from Currency
	to   Currency
}

// Snapshot is an immutable view of the conversion-rate set. A single
// evaluation pass works against exactly one snapshot, so it can never mix
// rates taken at different times.
type Snapshot struct {
	version uint64
	takenAt time.Time
	rates   map[pair]ConversionRate
}

// NewSnapshot builds a snapshot from a batch of rates. Later duplicates of
// the same pair win.
func NewSnapshot(version uint64, takenAt time.Time, rates []ConversionRate) *Snapshot {
	m := make(map[pair]ConversionRate, len(rates))
	for _, r := range rates {
		m[pair{from: r.From, to: r.To}] = r
	}
	return &Snapshot{version: version, takenAt: takenAt, rates: m}
}

// Version returns the monotonically increasing snapshot version.
func (s *Snapshot) Version() uint64 { return s.version }

// TakenAt returns when the snapshot was assembled.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Len returns the number of quoted pairs.
func (s *Snapshot) Len() int { return len(s.rates) }

// Lookup returns the quoted rate for from->to, if present.
func (s *Snapshot) Lookup(from, to Currency) (ConversionRate, bool) {
	r, ok := s.rates[pair{from: from, to: to}]
	return r, ok
}

// Table holds the current rate snapshot. Updates are whole-snapshot swaps,
// so readers never observe a partially applied rate set.
type Table struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewTable returns an empty rate table.
func NewTable() *Table {
	t := &Table{}
	t.current.Store(NewSnapshot(0, time.Time{}, nil))
	return t
}

// Load returns the current snapshot. Never nil.
func (t *Table) Load() *Snapshot {
	return t.current.Load()
}

// Publish installs a new snapshot built from the given rates and returns
// its version.
func (t *Table) Publish(takenAt time.Time, rates []ConversionRate) uint64 {
	version := t.version.Add(1)
	t.current.Store(NewSnapshot(version, takenAt, rates))
	return version
}
