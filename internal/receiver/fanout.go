package receiver

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/facestream/internal/fusion"
)

// Sink consumes each published output. Publish is called on the tick
// goroutine and must not block.
type Sink interface {
	Publish(fusion.Output)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(fusion.Output)

func (f SinkFunc) Publish(o fusion.Output) { f(o) }

// Fanout copies outputs to any number of subscribers. A subscriber that is
// not keeping up misses outputs rather than stalling the tick.
type Fanout struct {
	mu          sync.Mutex
	subscribers map[string]chan fusion.Output
	buffer      int
	closed      bool
}

// NewFanout returns a Fanout whose subscriber channels hold buffer outputs.
func NewFanout(buffer int) *Fanout {
	if buffer < 1 {
		buffer = 1
	}
	return &Fanout{subscribers: make(map[string]chan fusion.Output), buffer: buffer}
}

// Subscribe registers a new subscriber. The channel is closed by
// Unsubscribe or Close.
func (f *Fanout) Subscribe() (string, <-chan fusion.Output) {
	id := uuid.NewString()
	ch := make(chan fusion.Output, f.buffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber.
func (f *Fanout) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Publish implements Sink.
func (f *Fanout) Publish(o fusion.Output) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- o:
		default:
		}
	}
}

// Len is the number of current subscribers.
func (f *Fanout) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}
