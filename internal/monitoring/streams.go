package monitoring

import (
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/facestream/internal/network"
	"github.com/banshee-data/facestream/internal/receiver"
	"github.com/banshee-data/facestream/internal/recorder"
)

// Level selects how many log streams are enabled. Each level includes the
// ones before it.
type Level int

const (
	LevelQuiet Level = iota
	LevelOps
	LevelDiag
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelQuiet:
		return "quiet"
	case LevelOps:
		return "ops"
	case LevelDiag:
		return "diag"
	case LevelTrace:
		return "trace"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel accepts quiet, ops, diag or trace in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quiet", "off":
		return LevelQuiet, nil
	case "ops", "":
		return LevelOps, nil
	case "diag":
		return LevelDiag, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelOps, fmt.Errorf("unknown log level %q (want quiet, ops, diag or trace)", s)
}

// Streams holds one writer per stream. A nil writer disables the stream.
type Streams struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// StreamsFor routes every stream enabled at l to w.
func StreamsFor(l Level, w io.Writer) Streams {
	var s Streams
	if l >= LevelOps {
		s.Ops = w
	}
	if l >= LevelDiag {
		s.Diag = w
	}
	if l >= LevelTrace {
		s.Trace = w
	}
	return s
}

// Apply installs s in every package that logs on the three streams.
func (s Streams) Apply() {
	network.SetLogWriters(s.Ops, s.Diag, s.Trace)
	receiver.SetLogWriters(s.Ops, s.Diag, s.Trace)
	recorder.SetLogWriters(s.Ops, s.Diag, s.Trace)
}
