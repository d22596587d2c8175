package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/facestream/internal/config"
	"github.com/banshee-data/facestream/internal/health"
	"github.com/banshee-data/facestream/internal/monitor"
	"github.com/banshee-data/facestream/internal/monitoring"
	"github.com/banshee-data/facestream/internal/network"
	"github.com/banshee-data/facestream/internal/receiver"
	"github.com/banshee-data/facestream/internal/recorder"
	"github.com/banshee-data/facestream/internal/timeutil"
	"github.com/banshee-data/facestream/internal/version"
)

type runOptions struct {
	Config         *config.ReceiverConfig
	ConfigPath     string
	HTTPListen     string
	GRPCListen     string
	DBPath         string
	RecordInterval time.Duration
	PCAPFile       string
	RingSize       int
	Reload         <-chan os.Signal
	Receiver       receiver.Options
}

// run wires the receiver to its sinks and ticks until ctx is done or, in
// replay mode, the capture is exhausted.
func run(ctx context.Context, o runOptions) error {
	if o.Config == nil {
		o.Config = config.DefaultReceiverConfig()
	}
	if o.PCAPFile != "" {
		o.Receiver.DisableSender = true
	}
	if o.Receiver.Clock == nil {
		o.Receiver.Clock = timeutil.RealClock{}
	}
	clock := o.Receiver.Clock
	recv, err := receiver.New(o.Config, o.Receiver)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ring := monitor.NewRing(o.RingSize)
	fan := receiver.NewFanout(16)
	defer fan.Close()
	sinks := []receiver.Sink{ring, fan}

	var rec *recorder.Recorder
	if o.DBPath != "" {
		rec, err = recorder.Open(o.DBPath, recorder.Options{Interval: o.RecordInterval})
		if err != nil {
			return fmt.Errorf("open recorder: %w", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				monitoring.Logf("close recorder: %v", err)
			}
		}()
		s := recv.Session()
		if err := rec.RecordSession(s.ID, s.StartedAt, o.Config.ListenAddress()); err != nil {
			return err
		}
		recv.OnTransition(rec.TransitionObserver(s.ID))
		sinks = append(sinks, rec)
	}

	if o.GRPCListen != "" {
		h := health.New()
		recv.OnTransition(h.Observe)
		if err := h.Start(o.GRPCListen); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
		defer h.Stop()
	}

	var wg sync.WaitGroup
	if o.HTTPListen != "" {
		mux := http.NewServeMux()
		monitor.NewServer(monitor.Config{
			Ring:     ring,
			Stats:    recv.Stats(),
			Fanout:   fan,
			Liveness: recv.LivenessState,
		}).AttachAdminRoutes(mux)
		if rec != nil {
			if err := rec.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		debug := tsweb.Debugger(mux)
		debug.KV("Version", version.String("facestream"))
		debug.KV("Session", recv.Session().ID.String())

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, &http.Server{Addr: o.HTTPListen, Handler: mux})
		}()
	}

	if o.PCAPFile == "" {
		if err := recv.Start(ctx); err != nil {
			return fmt.Errorf("start receiver: %w", err)
		}
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			n, err := network.ReadPCAPFile(ctx, o.PCAPFile, network.ReplayConfig{
				Port:     o.Config.GetListenPort(),
				Realtime: true,
				Handler:  recv,
				Stats:    recv.Stats(),
				Clock:    clock,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Logf("replay %s: %v", o.PCAPFile, err)
			}
			monitoring.Logf("replayed %d datagrams from %s", n, o.PCAPFile)
		}()
	}
	defer func() {
		if err := recv.Close(); err != nil {
			monitoring.Logf("close receiver: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reloadLoop(ctx, recv, o.ConfigPath, o.Reload)
	}()

	err = recv.Run(ctx, o.Config.GetTickInterval(), sinks...)
	if o.PCAPFile != "" {
		// Publish the state the capture ended on.
		final := recv.Tick(clock.Now())
		for _, s := range sinks {
			s.Publish(final)
		}
	}
	cancel()
	fan.Close()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveHTTP(ctx context.Context, server *http.Server) {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("debug HTTP listening on %s", server.Addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			monitoring.Logf("HTTP server error: %v", err)
		}
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server stopped")
}

// reloadLoop re-reads path and applies it on every signal from sig. A bad
// file leaves the running config in place.
func reloadLoop(ctx context.Context, recv *receiver.Receiver, path string, sig <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if err := reload(recv, path); err != nil {
				monitoring.Logf("reload: %v", err)
				continue
			}
			monitoring.Logf("reloaded %s", path)
		}
	}
}

func reload(recv *receiver.Receiver, path string) error {
	if path == "" {
		return errors.New("no -config file to reload")
	}
	cfg, err := config.LoadReceiverConfig(path)
	if err != nil {
		return fmt.Errorf("keeping current config: %w", err)
	}
	return recv.Apply(cfg)
}
