package tracking

import (
	"sync"
	"time"
)

// Parameter is the latest value of one address and when it was written.
// A zero Written means the address has never been written.
type Parameter struct {
	Value   float32
	Written time.Time
}

// Snapshot is a consistent copy of the store taken under its lock.
type Snapshot struct {
	Params    [NumAddresses]Parameter
	LastWrite [numCategories]time.Time
}

// Get returns the value for a. The zero value is returned for addresses that
// were never written.
func (s *Snapshot) Get(a Address) float32 {
	if !a.Valid() {
		return 0
	}
	return s.Params[a].Value
}

// LastWriteFor returns the most recent write time in category c.
func (s *Snapshot) LastWriteFor(c Category) time.Time {
	if c < 0 || c >= numCategories {
		return time.Time{}
	}
	return s.LastWrite[c]
}

// Store is the parameter table shared between the ingestion goroutine and
// the tick. Writers hold the lock for a single write; the tick holds the read
// lock while it fuses a snapshot.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStore returns a store with every address at 0 and never written.
func NewStore() *Store {
	return &Store{}
}

// Write stores value for a at now. Invalid addresses are ignored.
func (s *Store) Write(a Address, value float32, now time.Time) {
	if !a.Valid() {
		return
	}
	c := a.Category()
	s.mu.Lock()
	s.snap.Params[a] = Parameter{Value: value, Written: now}
	if now.After(s.snap.LastWrite[c]) {
		s.snap.LastWrite[c] = now
	}
	s.mu.Unlock()
}

// WriteAddress resolves a wire address and writes it. Unknown addresses are
// not stored and report false.
func (s *Store) WriteAddress(address string, value float32, now time.Time) bool {
	a, ok := Lookup(address)
	if !ok {
		return false
	}
	s.Write(a, value, now)
	return true
}

// View runs fn with the read lock held. fn must not retain the snapshot or
// call back into the store.
func (s *Store) View(fn func(*Snapshot)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.snap)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Reset clears all values and timestamps.
func (s *Store) Reset() {
	s.mu.Lock()
	s.snap = Snapshot{}
	s.mu.Unlock()
}
