package network

import (
	"sync"
	"time"
)

// StatsSnapshot is a point-in-time copy of the ingestion counters.
type StatsSnapshot struct {
	Packets        int64     `json:"packets"`
	Bytes          int64     `json:"bytes"`
	Messages       int64     `json:"messages"`
	DecodeErrors   int64     `json:"decode_errors"`
	Ignored        int64     `json:"ignored"`
	Reconnects     int64     `json:"reconnects"`
	BindFailures   int64     `json:"bind_failures"`
	SendDropped    int64     `json:"send_dropped"`
	LastPacketTime time.Time `json:"last_packet_time"`
}

// Stats counts ingestion activity. Counters are cumulative; LogInterval
// reports the delta since the previous report.
type Stats struct {
	mu   sync.Mutex
	cur  StatsSnapshot
	last StatsSnapshot
}

func NewStats() *Stats { return &Stats{} }

// AddPacket records one datagram of n bytes received at t.
func (s *Stats) AddPacket(n int, t time.Time) {
	s.mu.Lock()
	s.cur.Packets++
	s.cur.Bytes += int64(n)
	s.cur.LastPacketTime = t
	s.mu.Unlock()
}

func (s *Stats) AddMessage()     { s.add(func(c *StatsSnapshot) { c.Messages++ }) }
func (s *Stats) AddDecodeError() { s.add(func(c *StatsSnapshot) { c.DecodeErrors++ }) }
func (s *Stats) AddIgnored()     { s.add(func(c *StatsSnapshot) { c.Ignored++ }) }
func (s *Stats) AddReconnect()   { s.add(func(c *StatsSnapshot) { c.Reconnects++ }) }
func (s *Stats) AddBindFailure() { s.add(func(c *StatsSnapshot) { c.BindFailures++ }) }
func (s *Stats) AddDropped()     { s.add(func(c *StatsSnapshot) { c.SendDropped++ }) }

func (s *Stats) add(fn func(*StatsSnapshot)) {
	s.mu.Lock()
	fn(&s.cur)
	s.mu.Unlock()
}

// Snapshot returns the cumulative counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// LogInterval writes the activity since the last call to the diag stream.
func (s *Stats) LogInterval(d time.Duration) {
	s.mu.Lock()
	cur, prev := s.cur, s.last
	s.last = cur
	s.mu.Unlock()

	packets := cur.Packets - prev.Packets
	rate := 0.0
	if d > 0 {
		rate = float64(packets) / d.Seconds()
	}
	diagf("%d packets (%.1f/s), %d bytes, %d messages, %d decode errors, %d ignored, %d reconnects in %v",
		packets, rate, cur.Bytes-prev.Bytes, cur.Messages-prev.Messages,
		cur.DecodeErrors-prev.DecodeErrors, cur.Ignored-prev.Ignored,
		cur.Reconnects-prev.Reconnects, d)
}
