// Package health reports tracking liveness over the standard gRPC health
// checking protocol.
package health

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/facestream/internal/tracking"
)

// Service names. The empty service reports the process itself.
const (
	EyeService  = "facestream.eye"
	FaceService = "facestream.face"
)

// ServiceFor maps a liveness category to its health service. Categories
// without liveness gating report false.
func ServiceFor(c tracking.Category) (string, bool) {
	switch c {
	case tracking.CategoryEye:
		return EyeService, true
	case tracking.CategoryMouth:
		return FaceService, true
	}
	return "", false
}

// StopGrace bounds how long Stop waits for open RPCs.
const StopGrace = time.Second

// Server owns the health service and, once started, the gRPC server that
// exposes it.
type Server struct {
	health *health.Server

	mu       sync.Mutex
	grpc     *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New returns a health server with the process serving and both tracking
// services not serving.
func New() *Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(EyeService, healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(FaceService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{health: h}
}

// Observe updates the service for tr's category. It is safe to pass to
// receiver.Receiver.OnTransition.
func (s *Server) Observe(tr tracking.Transition) {
	svc, ok := ServiceFor(tr.Category)
	if !ok {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if tr.To == tracking.Active {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(svc, status)
}

// Status returns the current status of service.
func (s *Server) Status(service string) healthpb.HealthCheckResponse_ServingStatus {
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return resp.GetStatus()
}

// Start listens on addr and serves the health service in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.grpc = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[health] gRPC health listening on %s", lis.Addr())
		if err := s.grpc.Serve(lis); err != nil && s.running.Load() {
			log.Printf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service not serving, notifying watchers, and stops the
// gRPC server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return
	}
	s.running.Store(false)

	// Watch streams never end on their own; cut them off after a grace
	// period.
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(StopGrace):
		s.grpc.Stop()
		<-done
	}
	s.wg.Wait()
	log.Printf("[health] gRPC health stopped")
}
