// Package receiver ties ingestion, the parameter store and fusion together
// behind a pull-based Tick for the host.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/facestream/internal/config"
	"github.com/banshee-data/facestream/internal/fusion"
	"github.com/banshee-data/facestream/internal/network"
	"github.com/banshee-data/facestream/internal/osc"
	"github.com/banshee-data/facestream/internal/timeutil"
	"github.com/banshee-data/facestream/internal/tracking"
)

// DefaultStopTimeout bounds the join on the ingestion goroutine.
const DefaultStopTimeout = 2 * time.Second

// Options are the collaborators of a Receiver. Zero values select the real
// implementations.
type Options struct {
	Clock       timeutil.Clock
	Factory     network.UDPSocketFactory
	StopTimeout time.Duration
	LogInterval time.Duration
	// DisableSender skips outbound control messages regardless of config.
	DisableSender bool
}

// settings is the part of the config the tick reads. It is swapped whole so
// Tick never waits on Apply.
type settings struct {
	eyeEnabled  bool
	faceEnabled bool
	invertX     bool
	invertY     bool
	eye         tracking.Liveness
	face        tracking.Liveness
}

func settingsFrom(cfg *config.ReceiverConfig) *settings {
	return &settings{
		eyeEnabled:  cfg.GetEnableEyeTracking(),
		faceEnabled: cfg.GetEnableFaceTracking(),
		invertX:     cfg.GetInvertEyeX(),
		invertY:     cfg.GetInvertEyeY(),
		eye:         tracking.Liveness{Timeout: cfg.GetEyeTimeout()},
		face:        tracking.Liveness{Timeout: cfg.GetFaceTimeout()},
	}
}

// Receiver owns one session and its ingestion socket.
type Receiver struct {
	opts     Options
	session  *Session
	fuser    *fusion.Fuser
	tracker  tracking.Tracker
	stats    *network.Stats
	settings atomic.Pointer[settings]

	mu       sync.Mutex
	cfg      *config.ReceiverConfig
	ctx      context.Context
	listener *network.Listener
	sender   *network.Sender
	started  bool

	obsMu     sync.RWMutex
	observers []func(tracking.Transition)
}

// New builds a receiver for cfg. Nothing is bound until Start.
func New(cfg *config.ReceiverConfig, opts Options) (*Receiver, error) {
	if cfg == nil {
		cfg = config.DefaultReceiverConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Factory == nil {
		opts.Factory = network.RealUDPSocketFactory{}
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	r := &Receiver{
		opts:    opts,
		session: NewSession(opts.Clock.Now()),
		fuser:   fusion.NewFuser(),
		stats:   network.NewStats(),
		cfg:     cfg,
	}
	r.settings.Store(settingsFrom(cfg))
	return r, nil
}

// Session returns the receiver's session.
func (r *Receiver) Session() *Session { return r.session }

// Stats returns the ingestion counters.
func (r *Receiver) Stats() *network.Stats { return r.stats }

// Config returns the active configuration.
func (r *Receiver) Config() *config.ReceiverConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// LocalAddr is the bound ingestion address, or nil when not bound.
func (r *Receiver) LocalAddr() net.Addr {
	r.mu.Lock()
	l := r.listener
	r.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.LocalAddr()
}

// OnTransition registers fn to be called on each liveness change. fn runs
// on the tick goroutine and must not block.
func (r *Receiver) OnTransition(fn func(tracking.Transition)) {
	r.obsMu.Lock()
	r.observers = append(r.observers, fn)
	r.obsMu.Unlock()
}

// Start binds the ingestion socket, starts the control sender and asks the
// source to begin sending.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.ctx = ctx
	if err := r.startListener(r.cfg); err != nil {
		return err
	}
	if err := r.startSender(r.cfg); err != nil {
		opsf("control sender disabled: %v", err)
	}
	r.started = true
	opsf("session %s started on %s", r.session.ID, r.cfg.ListenAddress())
	if err := r.requestAvatar(); err != nil {
		opsf("request avatar: %v", err)
	}
	return nil
}

func (r *Receiver) startListener(cfg *config.ReceiverConfig) error {
	l, err := network.NewListener(network.ListenerConfig{
		Address:     cfg.ListenAddress(),
		RcvBuf:      cfg.GetRcvBuf(),
		RetryDelay:  cfg.GetRetryDelay(),
		LogInterval: r.opts.LogInterval,
		Handler:     r,
		Factory:     r.opts.Factory,
		Clock:       r.opts.Clock,
		Stats:       r.stats,
	})
	if err != nil {
		return err
	}
	l.Start()
	r.listener = l
	return nil
}

func (r *Receiver) startSender(cfg *config.ReceiverConfig) error {
	addr := cfg.GetSendAddress()
	if r.opts.DisableSender || addr == "" {
		return nil
	}
	s, err := network.NewSender(addr, r.stats, r.opts.Clock)
	if err != nil {
		return err
	}
	s.Start(r.ctx, r.opts.LogInterval)
	r.sender = s
	return nil
}

// HandleMessage stores a message whose first argument is a finite float and
// whose address is a known tracking address. Everything else is ignored.
func (r *Receiver) HandleMessage(m *osc.Message, at time.Time) bool {
	v, ok := m.Float()
	if !ok {
		tracef("ignoring %s: first argument is not a float", m.Address)
		return false
	}
	if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
		tracef("ignoring %s: non-finite value %v", m.Address, v)
		return false
	}
	return r.session.Store.WriteAddress(m.Address, v, at)
}

// Tick fuses one output at now. It holds the store's read lock only for
// the snapshot-and-fuse and never waits on the network side or Apply.
func (r *Receiver) Tick(now time.Time) fusion.Output {
	s := r.settings.Load()
	var out fusion.Output
	var eyeActive, faceActive bool
	r.session.Store.View(func(snap *tracking.Snapshot) {
		eyeActive = s.eyeEnabled && s.eye.Active(snap.LastWriteFor(tracking.CategoryEye), now)
		faceActive = s.faceEnabled && s.face.Active(snap.LastWriteFor(tracking.CategoryMouth), now)
		out = r.fuser.Fuse(snap, fusion.Options{
			EyeActive:  eyeActive,
			FaceActive: faceActive,
			InvertX:    s.invertX,
			InvertY:    s.invertY,
		})
	})
	out.SessionID = r.session.ID
	out.Timestamp = now

	r.observe(tracking.CategoryEye, eyeActive, now)
	r.observe(tracking.CategoryMouth, faceActive, now)
	return out
}

func (r *Receiver) observe(c tracking.Category, active bool, now time.Time) {
	state := tracking.Stale
	if active {
		state = tracking.Active
	}
	tr, changed := r.tracker.Observe(c, state, now)
	if !changed {
		return
	}
	opsf("%s tracking %s -> %s", c, tr.From, tr.To)
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, fn := range r.observers {
		fn(tr)
	}
}

// LivenessState returns the last observed state for c.
func (r *Receiver) LivenessState(c tracking.Category) tracking.State {
	return r.tracker.Current(c)
}

// Apply switches to cfg. A changed listen address tears the socket down and
// rebinds; a changed send address redials. Everything else takes effect on
// the next tick.
func (r *Receiver) Apply(cfg *config.ReceiverConfig) error {
	if cfg == nil {
		return errors.New("apply: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.settings.Store(settingsFrom(cfg))

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.cfg
	r.cfg = cfg
	diagf("applied config: listen=%s send=%q eye=%v face=%v invert=%v/%v",
		cfg.ListenAddress(), cfg.GetSendAddress(), cfg.GetEnableEyeTracking(),
		cfg.GetEnableFaceTracking(), cfg.GetInvertEyeX(), cfg.GetInvertEyeY())
	if !r.started {
		return nil
	}

	var errs []error
	if old.ListenAddress() != cfg.ListenAddress() || old.GetRcvBuf() != cfg.GetRcvBuf() ||
		old.GetRetryDelay() != cfg.GetRetryDelay() {
		opsf("rebinding %s -> %s", old.ListenAddress(), cfg.ListenAddress())
		if err := r.listener.Stop(r.opts.StopTimeout); err != nil {
			errs = append(errs, err)
		}
		r.listener = nil
		if err := r.startListener(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if old.GetSendAddress() != cfg.GetSendAddress() {
		r.closeSender()
		if err := r.startSender(cfg); err != nil {
			errs = append(errs, err)
		}
		if err := r.requestAvatar(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RequestAvatar asks the source to (re)start sending and to keep sending.
func (r *Receiver) RequestAvatar() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestAvatar()
}

func (r *Receiver) requestAvatar() error {
	if r.sender == nil {
		return nil
	}
	var errs []error
	if err := r.sender.Send(osc.AvatarChange(r.cfg.GetAvatarChangeValue())); err != nil {
		errs = append(errs, fmt.Errorf("avatar change: %w", err))
	}
	if ns := r.cfg.GetForceRelevantNamespace(); ns != "" {
		if err := r.sender.Send(osc.ForceRelevant(ns, true)); err != nil {
			errs = append(errs, fmt.Errorf("force relevant: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *Receiver) closeSender() {
	if r.sender == nil {
		return
	}
	if err := r.sender.Close(); err != nil {
		opsf("close control sender: %v", err)
	}
	r.sender = nil
}

// Close stops ingestion with a bounded join and releases the sockets. It
// always completes; a join timeout is returned after cleanup.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.listener != nil {
		err = r.listener.Stop(r.opts.StopTimeout)
		r.listener = nil
	}
	r.closeSender()
	if r.started {
		opsf("session %s closed", r.session.ID)
	}
	r.started = false
	return err
}

// Run drives Tick from the clock every interval and publishes each output
// to sinks until ctx is done.
func (r *Receiver) Run(ctx context.Context, interval time.Duration, sinks ...Sink) error {
	if interval <= 0 {
		interval = config.DefaultTickInterval
	}
	t := r.opts.Clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C():
			out := r.Tick(now)
			for _, s := range sinks {
				s.Publish(out)
			}
		}
	}
}
