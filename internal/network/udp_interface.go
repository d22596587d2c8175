package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket is the subset of *net.UDPConn the listener reads through, so
// the read loop can be driven by a mock in tests.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory binds sockets. The listener calls it again on every
// reconnect.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing. It is safe for use from
// the listener goroutine and the test goroutine at once.
type MockUDPSocket struct {
	mu           sync.Mutex
	packets      [][]byte
	readErr      error
	closed       bool
	readBuffer   int
	readDeadline time.Time
	local        *net.UDPAddr
}

// NewMockUDPSocket returns a mock bound to local that serves packets in order.
func NewMockUDPSocket(local *net.UDPAddr, packets ...[]byte) *MockUDPSocket {
	return &MockUDPSocket{packets: packets, local: local}
}

// Push queues another datagram.
func (m *MockUDPSocket) Push(b []byte) {
	m.mu.Lock()
	m.packets = append(m.packets, b)
	m.mu.Unlock()
}

// FailNextRead makes the next read return err.
func (m *MockUDPSocket) FailNextRead(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// ReadFromUDP returns the next queued datagram, or a timeout after a short
// real sleep when the queue is empty.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if err := m.readErr; err != nil {
		m.readErr = nil
		m.mu.Unlock()
		return 0, nil, err
	}
	if len(m.packets) == 0 {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
	pkt := m.packets[0]
	m.packets = m.packets[1:]
	m.mu.Unlock()
	return copy(b, pkt), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}, nil
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	m.readBuffer = bytes
	m.mu.Unlock()
	return nil
}

func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	m.readDeadline = t
	m.mu.Unlock()
	return nil
}

// ReadDeadline returns the last value passed to SetReadDeadline.
func (m *MockUDPSocket) ReadDeadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readDeadline
}

func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return net.ErrClosed
	}
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockUDPSocket) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ReadBuffer returns the last value passed to SetReadBuffer.
func (m *MockUDPSocket) ReadBuffer() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBuffer
}

func (m *MockUDPSocket) LocalAddr() net.Addr { return m.local }

// MockUDPSocketFactory hands out a fresh MockUDPSocket per bind and records
// every bind attempt.
type MockUDPSocketFactory struct {
	mu      sync.Mutex
	fail    int
	err     error
	calls   []string
	sockets []*MockUDPSocket
	notify  chan struct{}
}

// NewMockUDPSocketFactory returns a factory whose binds all succeed.
func NewMockUDPSocketFactory() *MockUDPSocketFactory {
	return &MockUDPSocketFactory{notify: make(chan struct{}, 64)}
}

// FailBinds makes the next n binds return err.
func (f *MockUDPSocketFactory) FailBinds(n int, err error) {
	f.mu.Lock()
	f.fail, f.err = n, err
	f.mu.Unlock()
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	defer func() {
		f.mu.Unlock()
		select {
		case f.notify <- struct{}{}:
		default:
		}
	}()
	f.calls = append(f.calls, laddr.String())
	if f.fail > 0 {
		f.fail--
		return nil, f.err
	}
	s := NewMockUDPSocket(laddr)
	f.sockets = append(f.sockets, s)
	return s, nil
}

// Binds signals after every ListenUDP call.
func (f *MockUDPSocketFactory) Binds() <-chan struct{} { return f.notify }

// Calls returns the addresses of every bind attempt.
func (f *MockUDPSocketFactory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Socket returns the i-th successfully bound socket, or nil.
func (f *MockUDPSocketFactory) Socket(i int) *MockUDPSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.sockets) {
		return nil
	}
	return f.sockets[i]
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
