package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/facestream/internal/timeutil"
)

// ReplayConfig configures ReadPCAPFile.
type ReplayConfig struct {
	// Port keeps only UDP datagrams addressed to this destination port.
	// Zero keeps every UDP datagram.
	Port int
	// Realtime sleeps between datagrams by their capture spacing.
	Realtime bool
	Handler  MessageHandler
	Stats    *Stats
	Clock    timeutil.Clock
}

// ReadPCAPFile replays the OSC datagrams in a classic pcap capture through
// the handler. Messages are stamped with the clock's current time so the
// receiver sees them as live.
func ReadPCAPFile(ctx context.Context, path string, cfg ReplayConfig) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open capture %s: %w", path, err)
	}
	defer f.Close()
	return ReadPCAP(ctx, f, cfg)
}

// ReadPCAP is ReadPCAPFile over an already open reader. It returns the
// number of datagrams dispatched.
func ReadPCAP(ctx context.Context, r io.Reader, cfg ReplayConfig) (int, error) {
	if cfg.Handler == nil {
		return 0, errors.New("replay requires a message handler")
	}
	if cfg.Stats == nil {
		cfg.Stats = NewStats()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("read capture header: %w", err)
	}
	linkType := pr.LinkType()
	diagf("replaying capture (link type %v, port %d, realtime %v)", linkType, cfg.Port, cfg.Realtime)

	count := 0
	var prev time.Time
	start := cfg.Clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			diagf("capture replay complete: %d datagrams in %v", count, cfg.Clock.Now().Sub(start))
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read capture packet %d: %w", count+1, err)
		}

		pkt := gopacket.NewPacket(data, linkType, gopacket.NoCopy)
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
			continue
		}

		if cfg.Realtime && !prev.IsZero() {
			if gap := ci.Timestamp.Sub(prev); gap > 0 {
				select {
				case <-ctx.Done():
					return count, ctx.Err()
				case <-cfg.Clock.After(gap):
				}
			}
		}
		prev = ci.Timestamp

		Dispatch(udp.Payload, cfg.Clock.Now(), cfg.Handler, cfg.Stats, nil)
		count++
	}
}
