package price

import (
	"fmt"
	"sync/atomic"
	"time"
)

// entry is replaced as a whole; readers never see a half-written quote.
type entry struct {
	quote    Quote
	storedAt time.Time
}

// Store holds the latest quote per enabled asset. The slot map is built once
// and never resized, so reads need no lock: each slot is an atomic pointer
// swapped by the single active writer.
type Store struct {
	assets []Asset
	slots  map[Asset]*atomic.Pointer[entry]
	now    func() time.Time
}

// NewStore creates one empty slot per asset.
func NewStore(assets []Asset) *Store {
	s := &Store{
		assets: make([]Asset, 0, len(assets)),
		slots:  make(map[Asset]*atomic.Pointer[entry], len(assets)),
		now:    time.Now,
	}
	for _, a := range assets {
		if _, dup := s.slots[a]; dup {
			continue
		}
		s.assets = append(s.assets, a)
		s.slots[a] = new(atomic.Pointer[entry])
	}
	return s
}

// Assets returns the enabled assets in configuration order.
func (s *Store) Assets() []Asset {
	out := make([]Asset, len(s.assets))
	copy(out, s.assets)
	return out
}

// Tracks reports whether a has a slot.
func (s *Store) Tracks(a Asset) bool {
	_, ok := s.slots[a]
	return ok
}

// Get returns the latest quote for a, if any.
func (s *Store) Get(a Asset) (Quote, bool) {
	slot, ok := s.slots[a]
	if !ok {
		return Quote{}, false
	}
	e := slot.Load()
	if e == nil {
		return Quote{}, false
	}
	return e.quote, true
}

// GetAll returns every enabled asset; absent values are nil.
func (s *Store) GetAll() map[Asset]*Quote {
	out := make(map[Asset]*Quote, len(s.assets))
	for _, a := range s.assets {
		if e := s.slots[a].Load(); e != nil {
			q := e.quote
			out[a] = &q
		} else {
			out[a] = nil
		}
	}
	return out
}

// UpdatedAt is the local time the current value was written.
func (s *Store) UpdatedAt(a Asset) (time.Time, bool) {
	slot, ok := s.slots[a]
	if !ok {
		return time.Time{}, false
	}
	e := slot.Load()
	if e == nil {
		return time.Time{}, false
	}
	return e.storedAt, true
}

// Set replaces the value for q.Asset (last write wins) and returns the
// previous quote, if any. Writing an asset that is not enabled is an error.
func (s *Store) Set(q Quote) (prev *Quote, err error) {
	slot, ok := s.slots[q.Asset]
	if !ok {
		return nil, fmt.Errorf("store: asset %s is not enabled", q.Asset)
	}
	old := slot.Swap(&entry{quote: q, storedAt: s.now()})
	if old != nil {
		p := old.quote
		return &p, nil
	}
	return nil, nil
}

// IsStale reports whether a is missing or older than threshold.
func (s *Store) IsStale(a Asset, threshold time.Duration) bool {
	q, ok := s.Get(a)
	if !ok {
		return true
	}
	return q.IsStale(s.now(), threshold)
}

// Check returns the quote for a when it is present and fresh. Otherwise the
// error is ErrNotAvailable or ErrStale.
func (s *Store) Check(a Asset, threshold time.Duration) (Quote, error) {
	q, ok := s.Get(a)
	if !ok {
		return Quote{}, notAvailable(a)
	}
	now := s.now()
	if q.IsStale(now, threshold) {
		return q, stale(a, q.Age(now))
	}
	return q, nil
}
