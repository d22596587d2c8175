package network

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facestream/internal/osc"
	"github.com/banshee-data/facestream/internal/timeutil"
)

type recordingHandler struct {
	mu     sync.Mutex
	msgs   []*osc.Message
	accept func(*osc.Message) bool
	got    chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan struct{}, 64)}
}

func (h *recordingHandler) HandleMessage(m *osc.Message, at time.Time) bool {
	h.mu.Lock()
	h.msgs = append(h.msgs, m)
	h.mu.Unlock()
	select {
	case h.got <- struct{}{}:
	default:
	}
	if h.accept != nil {
		return h.accept(m)
	}
	return true
}

func (h *recordingHandler) messages() []*osc.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*osc.Message(nil), h.msgs...)
}

func (h *recordingHandler) wait(t *testing.T) {
	t.Helper()
	select {
	case <-h.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
}

func encode(t *testing.T, address string, v float32) []byte {
	t.Helper()
	b, err := osc.Encode(address, osc.Float32(v))
	require.NoError(t, err)
	return b
}

func waitBind(t *testing.T, f *MockUDPSocketFactory) {
	t.Helper()
	select {
	case <-f.Binds():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bind")
	}
}

// waitPending blocks until a goroutine is parked on the mock clock.
func waitPending(t *testing.T, c *timeutil.MockClock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("nothing waiting on the clock")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatch_CountsAndDelivers(t *testing.T) {
	h := newRecordingHandler()
	h.accept = func(m *osc.Message) bool { return m.Address != "/ignored" }
	stats := NewStats()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	bundle := osc.EncodeBundle(0,
		encode(t, "/avatar/parameters/v2/JawOpen", 0.5),
		[]byte("/broken1"),
		encode(t, "/ignored", 1),
	)
	Dispatch(bundle, at, h, stats, nil)

	s := stats.Snapshot()
	assert.Equal(t, int64(1), s.Packets)
	assert.Equal(t, int64(len(bundle)), s.Bytes)
	assert.Equal(t, int64(2), s.Messages)
	assert.Equal(t, int64(1), s.DecodeErrors)
	assert.Equal(t, int64(1), s.Ignored)
	assert.Equal(t, at, s.LastPacketTime)
	require.Len(t, h.messages(), 2)
}

func TestDispatch_GarbageIsNotFatal(t *testing.T) {
	h := newRecordingHandler()
	stats := NewStats()
	Dispatch([]byte{0xff, 0x00}, time.Now(), h, stats, nil)
	assert.Empty(t, h.messages())
	assert.Equal(t, int64(1), stats.Snapshot().DecodeErrors)
}

func TestNewListener_Validation(t *testing.T) {
	_, err := NewListener(ListenerConfig{Address: "not an address", Handler: newRecordingHandler()})
	assert.Error(t, err)

	_, err = NewListener(ListenerConfig{Address: "127.0.0.1:9000"})
	assert.Error(t, err)

	l, err := NewListener(ListenerConfig{Address: "127.0.0.1:9000", Handler: newRecordingHandler()})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, l.cfg.RetryDelay)
	assert.Equal(t, 100*time.Millisecond, l.cfg.ReadTimeout)
	assert.NotNil(t, l.Stats())
}

func TestListener_ReceivesAndStops(t *testing.T) {
	f := NewMockUDPSocketFactory()
	h := newRecordingHandler()
	l, err := NewListener(ListenerConfig{
		Address: "127.0.0.1:9000",
		RcvBuf:  1 << 20,
		Handler: h,
		Factory: f,
	})
	require.NoError(t, err)

	l.Start()
	waitBind(t, f)
	sock := f.Socket(0)
	require.NotNil(t, sock)
	assert.Equal(t, 1<<20, sock.ReadBuffer())

	sock.Push(encode(t, "/avatar/parameters/v2/EyeLeftX", 0.25))
	h.wait(t)

	require.NoError(t, l.Stop(time.Second))
	assert.True(t, sock.Closed())
	assert.Nil(t, l.LocalAddr())

	msgs := h.messages()
	require.Len(t, msgs, 1)
	v, ok := msgs[0].Float()
	require.True(t, ok)
	assert.Equal(t, float32(0.25), v)

	assert.NoError(t, l.Stop(time.Second), "second stop is a no-op")
}

func TestListener_ReadDeadlineUsesWallClock(t *testing.T) {
	f := NewMockUDPSocketFactory()
	h := newRecordingHandler()
	clock := timeutil.NewMockClock(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	l, err := NewListener(ListenerConfig{
		Address:     "127.0.0.1:9000",
		ReadTimeout: 50 * time.Millisecond,
		Handler:     h,
		Factory:     f,
		Clock:       clock,
	})
	require.NoError(t, err)

	before := time.Now()
	l.Start()
	defer l.Stop(time.Second)
	waitBind(t, f)
	sock := f.Socket(0)
	require.NotNil(t, sock)
	sock.Push(encode(t, "/avatar/parameters/v2/EyeLeftX", 0.25))
	h.wait(t)

	assert.True(t, sock.ReadDeadline().After(before), "deadline %v set from the mock clock", sock.ReadDeadline())
}

func TestListener_ReconnectsAfterReadError(t *testing.T) {
	f := NewMockUDPSocketFactory()
	clock := timeutil.NewMockClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	h := newRecordingHandler()
	l, err := NewListener(ListenerConfig{
		Address:    "127.0.0.1:9000",
		RetryDelay: 500 * time.Millisecond,
		Handler:    h,
		Factory:    f,
		Clock:      clock,
	})
	require.NoError(t, err)
	l.Start()
	defer l.Stop(time.Second)

	waitBind(t, f)
	first := f.Socket(0)
	first.FailNextRead(errors.New("connection reset"))

	waitPending(t, clock)
	assert.True(t, first.Closed(), "failed socket is closed before the retry delay")
	clock.Advance(500 * time.Millisecond)
	waitBind(t, f)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1], "rebinds the same address")
	assert.Equal(t, int64(1), l.Stats().Snapshot().Reconnects)

	f.Socket(1).Push(encode(t, "/avatar/parameters/v2/JawOpen", 0.75))
	h.wait(t)
}

func TestListener_RetriesFailedBinds(t *testing.T) {
	f := NewMockUDPSocketFactory()
	f.FailBinds(2, errors.New("address in use"))
	clock := timeutil.NewMockClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	l, err := NewListener(ListenerConfig{
		Address:    "127.0.0.1:9000",
		RetryDelay: time.Second,
		Handler:    newRecordingHandler(),
		Factory:    f,
		Clock:      clock,
	})
	require.NoError(t, err)
	l.Start()
	defer l.Stop(time.Second)

	for i := 0; i < 2; i++ {
		waitBind(t, f)
		waitPending(t, clock)
		clock.Advance(time.Second)
	}
	waitBind(t, f)

	assert.Len(t, f.Calls(), 3)
	assert.Equal(t, int64(2), l.Stats().Snapshot().BindFailures)
	assert.NotNil(t, f.Socket(0))
}

func TestListener_StopDuringBindBackoff(t *testing.T) {
	f := NewMockUDPSocketFactory()
	f.FailBinds(100, errors.New("address in use"))
	clock := timeutil.NewMockClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	l, err := NewListener(ListenerConfig{
		Address: "127.0.0.1:9000",
		Handler: newRecordingHandler(),
		Factory: f,
		Clock:   clock,
	})
	require.NoError(t, err)
	l.Start()
	waitBind(t, f)
	waitPending(t, clock)

	assert.NoError(t, l.Stop(time.Second))
}

func TestListener_RealSocketWithSender(t *testing.T) {
	h := newRecordingHandler()
	l, err := NewListener(ListenerConfig{Address: "127.0.0.1:0", Handler: h})
	require.NoError(t, err)
	l.Start()
	defer l.Stop(time.Second)

	var local net.Addr
	deadline := time.Now().Add(2 * time.Second)
	for local == nil {
		if time.Now().After(deadline) {
			t.Fatal("listener never bound")
		}
		local = l.LocalAddr()
		time.Sleep(time.Millisecond)
	}

	s, err := NewSender(local.String(), nil, nil)
	require.NoError(t, err)
	s.Start(t.Context(), time.Second)
	require.NoError(t, s.Send(osc.AvatarChange("default")))
	h.wait(t)
	require.NoError(t, s.Close())

	msgs := h.messages()
	require.NotEmpty(t, msgs)
	assert.True(t, osc.AvatarChange("default").Equal(msgs[0]))

	assert.ErrorIs(t, s.Send(osc.AvatarChange("x")), net.ErrClosed)
}

func TestSender_RejectsInvalidMessage(t *testing.T) {
	s, err := NewSender("127.0.0.1:9", nil, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.Error(t, s.Send(&osc.Message{Address: "no-slash", Args: []osc.Value{osc.Float32(1)}}))
}

func TestSender_LogTickerUsesClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	s, err := NewSender("127.0.0.1:9", nil, clock)
	require.NoError(t, err)

	s.Start(t.Context(), time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for clock.Tickers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sender did not create its ticker on the clock")
		}
		time.Sleep(time.Millisecond)
	}
	clock.Advance(time.Minute)

	require.NoError(t, s.Close())
	assert.Zero(t, clock.Tickers(), "ticker stopped on close")
}

func TestSender_DropsWhenQueueFull(t *testing.T) {
	stats := NewStats()
	s, err := NewSender("127.0.0.1:9", stats, nil)
	require.NoError(t, err)
	defer s.Close()

	// Not started, so nothing drains the queue.
	for i := 0; i < cap(s.queue)+3; i++ {
		require.NoError(t, s.Send(osc.ForceRelevant("sl", true)))
	}
	assert.Equal(t, int64(3), stats.Snapshot().SendDropped)
}
