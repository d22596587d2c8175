package fusion

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/facestream/internal/tracking"
)

// Eyes is the published eye state for one tick.
type Eyes struct {
	Active   bool      `json:"active"`
	Left     EyeSample `json:"left"`
	Right    EyeSample `json:"right"`
	Combined EyeSample `json:"combined"`
}

// Mouth is the published face state for one tick.
type Mouth struct {
	Active bool `json:"active"`
	Face   Face `json:"face"`
}

// Output is built fresh on every tick and never mutated afterwards.
type Output struct {
	SessionID uuid.UUID `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Eyes      Eyes      `json:"eyes"`
	Mouth     Mouth     `json:"mouth"`
}

// NeutralEyes is the inactive eye state.
func NeutralEyes() Eyes {
	n := NeutralEye()
	return Eyes{Left: n, Right: n, Combined: n}
}

// Options selects which categories are fused and the eye axis convention.
type Options struct {
	EyeActive  bool
	FaceActive bool
	InvertX    bool
	InvertY    bool
}

// Fuser turns snapshots into outputs. It owns the combined-eye latch and is
// safe for concurrent use.
type Fuser struct {
	eyes *EyeFuser
}

func NewFuser() *Fuser {
	return &Fuser{eyes: NewEyeFuser()}
}

// Fuse builds the output for one tick. Categories not marked active are
// neutral and leave the eye latch untouched.
func (f *Fuser) Fuse(s *tracking.Snapshot, opts Options) Output {
	out := Output{Eyes: NeutralEyes()}
	if opts.EyeActive {
		l := eyeFrom(s, leftEye, opts.InvertX, opts.InvertY)
		r := eyeFrom(s, rightEye, opts.InvertX, opts.InvertY)
		out.Eyes = Eyes{
			Active:   true,
			Left:     l,
			Right:    r,
			Combined: f.eyes.Combine(l, r),
		}
	}
	if opts.FaceActive {
		out.Mouth = Mouth{Active: true, Face: FuseFace(s)}
	}
	return out
}

// EyeFuser exposes the combined-eye latch.
func (f *Fuser) EyeFuser() *EyeFuser { return f.eyes }
