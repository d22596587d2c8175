// Package network owns the UDP side of the receiver: the ingestion
// goroutine that decodes OSC datagrams, the outbound control sender, and
// capture replay.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/facestream/internal/osc"
	"github.com/banshee-data/facestream/internal/timeutil"
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// ErrStopTimeout is returned by Stop when the ingestion goroutine did not
// exit within the join timeout.
var ErrStopTimeout = errors.New("listener did not stop in time")

// MessageHandler receives every decoded message. It reports false for
// messages it ignored.
type MessageHandler interface {
	HandleMessage(m *osc.Message, at time.Time) bool
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(m *osc.Message, at time.Time) bool

func (f HandlerFunc) HandleMessage(m *osc.Message, at time.Time) bool { return f(m, at) }

// ListenerConfig configures a Listener. Zero fields take defaults.
type ListenerConfig struct {
	Address     string
	RcvBuf      int
	RetryDelay  time.Duration
	ReadTimeout time.Duration
	LogInterval time.Duration
	Handler     MessageHandler
	Factory     UDPSocketFactory
	Clock       timeutil.Clock
	Stats       *Stats
}

// Listener runs the ingestion goroutine for one bound address.
type Listener struct {
	cfg  ListenerConfig
	addr *net.UDPAddr

	mu      sync.Mutex
	sock    UDPSocket
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewListener validates the address and applies defaults. It does not bind.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", cfg.Address, err)
	}
	if cfg.Handler == nil {
		return nil, errors.New("listener requires a message handler")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.Factory == nil {
		cfg.Factory = RealUDPSocketFactory{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Stats == nil {
		cfg.Stats = NewStats()
	}
	return &Listener{cfg: cfg, addr: addr}, nil
}

// Address is the configured listen address.
func (l *Listener) Address() string { return l.cfg.Address }

// Stats returns the listener's counters.
func (l *Listener) Stats() *Stats { return l.cfg.Stats }

// LocalAddr is the address of the currently bound socket, or nil between
// binds.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sock == nil {
		return nil
	}
	return l.sock.LocalAddr()
}

// Start launches the ingestion goroutine. Binding happens on that goroutine
// and is retried until Stop, so Start itself never fails on a busy port.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stop, l.done)
	if l.cfg.LogInterval > 0 {
		go l.logStats(l.stop)
	}
}

// Stop signals the goroutine, closes the socket to unblock a pending read,
// and waits up to timeout for the goroutine to exit.
func (l *Listener) Stop(timeout time.Duration) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.stop)
	sock, done := l.sock, l.done
	l.mu.Unlock()

	if sock != nil {
		closeSocket(sock)
	}
	select {
	case <-done:
		opsf("listener on %s stopped", l.cfg.Address)
		return nil
	case <-time.After(timeout):
		opsf("listener on %s did not stop within %v", l.cfg.Address, timeout)
		return fmt.Errorf("%s: %w", l.cfg.Address, ErrStopTimeout)
	}
}

func (l *Listener) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, maxDatagram)
	for {
		sock := l.bind(stop)
		if sock == nil {
			return
		}
		err := l.read(sock, buf, stop)
		l.setSocket(nil)
		closeSocket(sock)
		if err == nil {
			return
		}
		l.cfg.Stats.AddReconnect()
		opsf("read on %s failed, rebinding in %v: %v", l.cfg.Address, l.cfg.RetryDelay, err)
		if !l.wait(stop) {
			return
		}
	}
}

// bind retries until a socket is bound or stop is closed, returning nil in
// the latter case.
func (l *Listener) bind(stop <-chan struct{}) UDPSocket {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		sock, err := l.cfg.Factory.ListenUDP("udp", l.addr)
		if err == nil {
			if l.cfg.RcvBuf > 0 {
				if err := sock.SetReadBuffer(l.cfg.RcvBuf); err != nil {
					opsf("set receive buffer to %d on %s: %v", l.cfg.RcvBuf, l.cfg.Address, err)
				}
			}
			if !l.setSocket(sock) {
				closeSocket(sock)
				return nil
			}
			opsf("listening on %s", l.cfg.Address)
			return sock
		}
		l.cfg.Stats.AddBindFailure()
		opsf("bind %s failed, retrying in %v: %v", l.cfg.Address, l.cfg.RetryDelay, err)
		if !l.wait(stop) {
			return nil
		}
	}
}

// setSocket publishes the current socket for Stop. It refuses a new socket
// once stop has begun so Stop never misses one.
func (l *Listener) setSocket(s UDPSocket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s != nil && !l.running {
		return false
	}
	l.sock = s
	return true
}

// read returns nil when stopped and the read error that ended the loop
// otherwise.
func (l *Listener) read(sock UDPSocket, buf []byte, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		// The OS deadline is wall clock time, not the injected clock.
		if err := sock.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
			tracef("set read deadline: %v", err)
		}
		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-stop:
				return nil
			default:
			}
			return err
		}
		l.dispatch(buf[:n], from, l.cfg.Clock.Now())
	}
}

func (l *Listener) dispatch(b []byte, from *net.UDPAddr, at time.Time) {
	Dispatch(b, at, l.cfg.Handler, l.cfg.Stats, from)
}

// Dispatch decodes one datagram and hands every message to h. Decode
// failures are counted and logged at trace level; the decodable messages
// of a partially broken bundle are still delivered.
func Dispatch(b []byte, at time.Time, h MessageHandler, stats *Stats, from net.Addr) {
	stats.AddPacket(len(b), at)
	msgs, errs := osc.DecodeAll(b)
	for _, err := range errs {
		stats.AddDecodeError()
		tracef("decode datagram from %v: %v", from, err)
	}
	for _, m := range msgs {
		stats.AddMessage()
		if !h.HandleMessage(m, at) {
			stats.AddIgnored()
		}
	}
}

func (l *Listener) wait(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-l.cfg.Clock.After(l.cfg.RetryDelay):
		return true
	}
}

func (l *Listener) logStats(stop <-chan struct{}) {
	t := l.cfg.Clock.NewTicker(l.cfg.LogInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			l.cfg.Stats.LogInterval(l.cfg.LogInterval)
		}
	}
}

// closeSocket logs and swallows close errors. A socket already closed by
// Stop is not an error.
func closeSocket(s UDPSocket) {
	if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		opsf("close socket: %v", err)
	}
}
