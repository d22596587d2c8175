package tracking

import (
	"sync"
	"time"
)

// State is the liveness of one category.
type State int

const (
	Stale State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "stale"
}

// Liveness decides whether a category with a given last write is live.
type Liveness struct {
	Timeout time.Duration
}

// Active reports whether last is set and no older than the timeout.
func (l Liveness) Active(last, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) <= l.Timeout
}

// State is Active or Stale for last at now.
func (l Liveness) State(last, now time.Time) State {
	if l.Active(last, now) {
		return Active
	}
	return Stale
}

// Transition is a change of state observed by a Tracker.
type Transition struct {
	Category Category
	From, To State
	At       time.Time
}

// Tracker remembers the previous state per category so state changes can be
// reported once. It starts Stale for every category.
type Tracker struct {
	mu    sync.Mutex
	state [numCategories]State
}

// Observe records the state for c and returns the transition when it changed.
func (t *Tracker) Observe(c Category, s State, now time.Time) (Transition, bool) {
	if c < 0 || c >= numCategories {
		return Transition{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.state[c]
	if prev == s {
		return Transition{}, false
	}
	t.state[c] = s
	return Transition{Category: c, From: prev, To: s, At: now}, true
}

// Current returns the last observed state for c.
func (t *Tracker) Current(c Category) State {
	if c < 0 || c >= numCategories {
		return Stale
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[c]
}
