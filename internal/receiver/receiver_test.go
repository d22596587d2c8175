package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facestream/internal/config"
	"github.com/banshee-data/facestream/internal/fusion"
	"github.com/banshee-data/facestream/internal/network"
	"github.com/banshee-data/facestream/internal/osc"
	"github.com/banshee-data/facestream/internal/timeutil"
	"github.com/banshee-data/facestream/internal/tracking"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestReceiver(t *testing.T, cfg *config.ReceiverConfig) (*Receiver, *network.MockUDPSocketFactory) {
	t.Helper()
	f := network.NewMockUDPSocketFactory()
	r, err := New(cfg, Options{
		Clock:         timeutil.NewMockClock(t0),
		Factory:       f,
		DisableSender: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, f
}

func send(t *testing.T, r *Receiver, feature string, v float32, at time.Time) {
	t.Helper()
	m := &osc.Message{Address: tracking.V2Prefix + feature, Args: []osc.Value{osc.Float32(v)}}
	require.True(t, r.HandleMessage(m, at), "message %s rejected", feature)
}

func deg(x float64) float64 { return math.Asin(x) * 180 / math.Pi }

func waitBind(t *testing.T, f *network.MockUDPSocketFactory) {
	t.Helper()
	select {
	case <-f.Binds():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bind")
	}
}

func TestTick_PartialUpdateKeepsOtherAxis(t *testing.T) {
	r, _ := newTestReceiver(t, nil)
	send(t, r, "EyeLeftX", 0.3, t0)
	send(t, r, "EyeLeftY", 0.2, t0)
	send(t, r, "EyeOpenLeft", 1, t0)
	send(t, r, "EyeLeftX", 0.5, t0.Add(10*time.Millisecond))

	out := r.Tick(t0.Add(20 * time.Millisecond))
	require.True(t, out.Eyes.Active)
	assert.InDelta(t, 30, out.Eyes.Left.Yaw, 1e-4)
	assert.InDelta(t, deg(float64(float32(0.2))), out.Eyes.Left.Pitch, 1e-6)
	assert.Equal(t, r.Session().ID, out.SessionID)
	assert.Equal(t, t0.Add(20*time.Millisecond), out.Timestamp)
}

func TestTick_LivenessTimeout(t *testing.T) {
	r, _ := newTestReceiver(t, nil)

	out := r.Tick(t0)
	assert.False(t, out.Eyes.Active, "never written is stale from the first tick")
	assert.False(t, out.Mouth.Active)

	send(t, r, "EyeLeftX", 0.5, t0)
	send(t, r, "EyeOpenLeft", 1, t0)

	out = r.Tick(t0.Add(4990 * time.Millisecond))
	assert.True(t, out.Eyes.Active)
	assert.InDelta(t, 30, out.Eyes.Left.Yaw, 1e-4)

	out = r.Tick(t0.Add(5010 * time.Millisecond))
	assert.False(t, out.Eyes.Active)
	assert.Equal(t, fusion.NeutralEyes(), out.Eyes, "stale eyes are neutral, not frozen")
}

func TestTick_CategoriesAreIndependent(t *testing.T) {
	r, _ := newTestReceiver(t, nil)
	send(t, r, "MouthSmileLeft", 0.8, t0)
	send(t, r, "MouthFrownLeft", 0.3, t0)
	send(t, r, "JawOpen", 0.6, t0)
	send(t, r, "MouthClosed", 0.7, t0)

	out := r.Tick(t0.Add(time.Second))
	assert.False(t, out.Eyes.Active, "mouth-only source leaves eyes stale")
	require.True(t, out.Mouth.Active)
	assert.InDelta(t, 0.5, out.Mouth.Face.SmileFrownLeft, 1e-6)
	assert.Zero(t, out.Mouth.Face.JawOpen)

	send(t, r, "EyeRightX", 0.1, t0.Add(4*time.Second))
	out = r.Tick(t0.Add(6 * time.Second))
	assert.True(t, out.Eyes.Active)
	assert.False(t, out.Mouth.Active)
}

func TestTick_DisabledCategory(t *testing.T) {
	cfg := config.DefaultReceiverConfig()
	off := false
	cfg.EnableEyeTracking = &off
	r, _ := newTestReceiver(t, cfg)
	send(t, r, "EyeLeftX", 0.5, t0)
	assert.False(t, r.Tick(t0).Eyes.Active)
}

func TestHandleMessage_Ignores(t *testing.T) {
	r, _ := newTestReceiver(t, nil)
	assert.False(t, r.HandleMessage(&osc.Message{Address: tracking.V2Prefix + "JawOpen", Args: []osc.Value{osc.String("x")}}, t0))
	assert.False(t, r.HandleMessage(&osc.Message{Address: tracking.V2Prefix + "JawOpen"}, t0))
	assert.False(t, r.HandleMessage(&osc.Message{Address: "/avatar/parameters/Unknown", Args: []osc.Value{osc.Float32(1)}}, t0))
	assert.True(t, r.HandleMessage(&osc.Message{Address: tracking.FaceWeightPrefix + "JawOpen", Args: []osc.Value{osc.Float32(1)}}, t0))
	snap := r.Session().Store.Snapshot()
	assert.Equal(t, float32(1), snap.Get(tracking.JawOpen))
}

func TestHandleMessage_RejectsNonFinite(t *testing.T) {
	r, _ := newTestReceiver(t, nil)
	send(t, r, "MouthSmileLeft", 0.4, t0)
	send(t, r, "EyeOpenLeft", 0.9, t0)

	for _, v := range []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))} {
		for _, feature := range []string{"MouthSmileLeft", "EyeOpenLeft", "EyeLeftX"} {
			m := &osc.Message{Address: tracking.V2Prefix + feature, Args: []osc.Value{osc.Float32(v)}}
			assert.False(t, r.HandleMessage(m, t0.Add(time.Millisecond)), "%s=%v accepted", feature, v)
		}
	}

	out := r.Tick(t0.Add(10 * time.Millisecond))
	assert.InDelta(t, 0.4, out.Mouth.Face.SmileFrownLeft, 1e-6, "last finite value kept")
	assert.InDelta(t, 0.9, out.Eyes.Left.Eyelid, 1e-6)
	assert.InDelta(t, 0.9, out.Eyes.Combined.Eyelid, 1e-6)
	_, err := json.Marshal(out)
	assert.NoError(t, err)
}

func TestDispatch_CountsNonFiniteAsIgnored(t *testing.T) {
	r, _ := newTestReceiver(t, nil)
	b, err := osc.Encode(tracking.V2Prefix+"JawOpen", osc.Float32(float32(math.NaN())))
	require.NoError(t, err)
	network.Dispatch(b, t0, r, r.Stats(), nil)
	snap := r.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Messages)
	assert.Equal(t, int64(1), snap.Ignored)
	storeSnap := r.Session().Store.Snapshot()
	assert.True(t, storeSnap.LastWriteFor(tracking.CategoryMouth).IsZero())
}

func TestTick_ReportsTransitions(t *testing.T) {
	r, _ := newTestReceiver(t, nil)
	var got []tracking.Transition
	r.OnTransition(func(tr tracking.Transition) { got = append(got, tr) })

	r.Tick(t0)
	assert.Empty(t, got)

	send(t, r, "JawOpen", 0.2, t0)
	r.Tick(t0.Add(time.Second))
	r.Tick(t0.Add(2 * time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, tracking.CategoryMouth, got[0].Category)
	assert.Equal(t, tracking.Active, got[0].To)
	assert.Equal(t, tracking.Active, r.LivenessState(tracking.CategoryMouth))

	r.Tick(t0.Add(10 * time.Second))
	require.Len(t, got, 2)
	assert.Equal(t, tracking.Stale, got[1].To)
}

func TestReceiver_IngestsFromSocket(t *testing.T) {
	r, f := newTestReceiver(t, nil)
	require.NoError(t, r.Start(context.Background()))
	waitBind(t, f)

	b, err := osc.Encode(tracking.V2Prefix+"JawOpen", osc.Float32(0.4))
	require.NoError(t, err)
	f.Socket(0).Push(b)

	deadline := time.Now().Add(2 * time.Second)
	for snap := r.Session().Store.Snapshot(); snap.Get(tracking.JawOpen) != 0.4; snap = r.Session().Store.Snapshot() {
		if time.Now().After(deadline) {
			t.Fatal("datagram never reached the store")
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int64(1), r.Stats().Snapshot().Messages)
}

func TestApply_RebindsOnListenChange(t *testing.T) {
	r, f := newTestReceiver(t, nil)
	require.NoError(t, r.Start(context.Background()))
	waitBind(t, f)
	first := f.Socket(0)

	cfg := config.DefaultReceiverConfig()
	port := 9100
	cfg.ListenPort = &port
	require.NoError(t, r.Apply(cfg))
	waitBind(t, f)

	assert.True(t, first.Closed())
	assert.Equal(t, []string{"127.0.0.1:9000", "127.0.0.1:9100"}, f.Calls())
	assert.Equal(t, "127.0.0.1:9100", r.Config().ListenAddress())
}

func TestApply_OtherSettingsDoNotRebind(t *testing.T) {
	r, f := newTestReceiver(t, nil)
	require.NoError(t, r.Start(context.Background()))
	waitBind(t, f)

	send(t, r, "EyeLeftX", 0.5, t0)
	send(t, r, "EyeOpenLeft", 1, t0)
	assert.InDelta(t, 30, r.Tick(t0).Eyes.Left.Yaw, 1e-4)

	cfg := config.DefaultReceiverConfig()
	on := true
	cfg.InvertEyeX = &on
	require.NoError(t, r.Apply(cfg))

	assert.InDelta(t, -30, r.Tick(t0).Eyes.Left.Yaw, 1e-4)
	assert.Len(t, f.Calls(), 1)
	assert.False(t, f.Socket(0).Closed())
}

func TestApply_RejectsInvalid(t *testing.T) {
	r, _ := newTestReceiver(t, nil)
	bad := config.DefaultReceiverConfig()
	ip := "nope"
	bad.ListenIP = &ip
	assert.Error(t, r.Apply(bad))
	assert.Equal(t, "127.0.0.1:9000", r.Config().ListenAddress())
	assert.NotPanics(t, func() { assert.Error(t, r.Apply(nil)) })
	assert.Equal(t, "127.0.0.1:9000", r.Config().ListenAddress())
}

func TestStart_SendsControlMessages(t *testing.T) {
	source, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer source.Close()

	cfg := config.DefaultReceiverConfig()
	addr := source.LocalAddr().String()
	cfg.SendAddress = &addr
	r, err := New(cfg, Options{Factory: network.NewMockUDPSocketFactory()})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Start(context.Background()))

	var got []*osc.Message
	buf := make([]byte, 1024)
	require.NoError(t, source.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(got) < 2 {
		n, _, err := source.ReadFromUDP(buf)
		require.NoError(t, err)
		m, err := osc.DecodeMessage(buf[:n])
		require.NoError(t, err)
		got = append(got, m)
	}
	assert.True(t, osc.AvatarChange("default").Equal(got[0]))
	assert.True(t, osc.ForceRelevant("sl", true).Equal(got[1]))
}

func TestClose_BoundedAndIdempotent(t *testing.T) {
	r, f := newTestReceiver(t, nil)
	require.NoError(t, r.Start(context.Background()))
	waitBind(t, f)
	require.NoError(t, r.Close())
	assert.True(t, f.Socket(0).Closed())
	assert.Nil(t, r.LocalAddr())
	assert.NoError(t, r.Close())
}

func TestSessionsAreIsolated(t *testing.T) {
	a, _ := newTestReceiver(t, nil)
	b, _ := newTestReceiver(t, nil)
	assert.NotEqual(t, a.Session().ID, b.Session().ID)

	send(t, a, "JawOpen", 1, t0)
	snap := b.Session().Store.Snapshot()
	assert.Zero(t, snap.Get(tracking.JawOpen))
}

func TestRun_PublishesEachTick(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	r, err := New(nil, Options{Clock: clock, Factory: network.NewMockUDPSocketFactory(), DisableSender: true})
	require.NoError(t, err)

	var mu sync.Mutex
	var outs []fusion.Output
	sink := SinkFunc(func(o fusion.Output) {
		mu.Lock()
		outs = append(outs, o)
		mu.Unlock()
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(outs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 10*time.Millisecond, sink) }()

	deadline := time.Now().Add(2 * time.Second)
	for count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no output published")
		}
		clock.Advance(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, r.Session().ID, outs[0].SessionID)
	assert.False(t, outs[0].Eyes.Active)
}
