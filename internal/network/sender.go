package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/facestream/internal/osc"
	"github.com/banshee-data/facestream/internal/timeutil"
)

// Sender delivers outbound control messages to the tracking source without
// blocking the caller. Messages are dropped when the queue is full.
type Sender struct {
	conn    *net.UDPConn
	queue   chan []byte
	stats   *Stats
	clock   timeutil.Clock
	address string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewSender dials address. stats and clock may be nil.
func NewSender(address string, stats *Stats, clock timeutil.Clock) (*Sender, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve send address %q: %w", address, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	if stats == nil {
		stats = NewStats()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Sender{
		conn:    conn,
		queue:   make(chan []byte, 32),
		stats:   stats,
		clock:   clock,
		address: address,
	}, nil
}

// Address is the destination.
func (s *Sender) Address() string { return s.address }

// Start runs the write loop until ctx is done or Close is called. Write
// errors are batched into one ops line per logInterval.
func (s *Sender) Start(ctx context.Context, logInterval time.Duration) {
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		failed := 0
		var lastErr error
		ticker := s.clock.NewTicker(logInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-s.queue:
				if !ok {
					return
				}
				if _, err := s.conn.Write(b); err != nil {
					failed++
					lastErr = err
				}
			case <-ticker.C():
				if failed > 0 {
					opsf("%d control messages to %s failed (latest: %v)", failed, s.address, lastErr)
					failed, lastErr = 0, nil
				}
			}
		}
	}()
	diagf("sending control messages to %s", s.address)
}

// Send encodes m and queues it.
func (s *Sender) Send(m *osc.Message) error {
	b, err := osc.EncodeMessage(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	select {
	case s.queue <- b:
	default:
		s.stats.AddDropped()
	}
	return nil
}

// Close drains the queue, stops the write loop and closes the connection.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.conn.Close()
}
