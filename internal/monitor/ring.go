// Package monitor keeps a short history of tick outputs in memory and serves
// it on the debug HTTP surface.
package monitor

import (
	"sync"

	"github.com/banshee-data/facestream/internal/fusion"
)

// DefaultRingSize holds roughly ten seconds at the default tick rate.
const DefaultRingSize = 900

// Ring is a fixed-size history of outputs. It implements receiver.Sink.
type Ring struct {
	mu   sync.RWMutex
	buf  []fusion.Output
	next int
	full bool
}

func NewRing(size int) *Ring {
	if size < 1 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]fusion.Output, size)}
}

// Publish appends o, overwriting the oldest entry once full.
func (r *Ring) Publish(o fusion.Output) {
	r.mu.Lock()
	r.buf[r.next] = o
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Len is the number of stored outputs.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Latest returns the most recent output.
func (r *Ring) Latest() (fusion.Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full && r.next == 0 {
		return fusion.Output{}, false
	}
	i := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[i], true
}

// Recent returns up to n outputs, oldest first. n <= 0 returns everything.
func (r *Ring) Recent(n int) []fusion.Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := r.next
	start := 0
	if r.full {
		size = len(r.buf)
		start = r.next
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]fusion.Output, n)
	for i := range out {
		out[i] = r.buf[(start+size-n+i)%len(r.buf)]
	}
	return out
}
