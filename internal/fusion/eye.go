package fusion

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/facestream/internal/tracking"
)

// Gaze holds one eye's normalized deflection. The axes are updated
// independently; setting one never resets the other.
type Gaze struct {
	X, Y float32
}

func (g *Gaze) SetX(x float32) { g.X = x }

func (g *Gaze) SetY(y float32) { g.Y = y }

func (g *Gaze) Set(x, y float32) { g.X, g.Y = x, y }

// Sample reconstructs the rotation for the current deflection.
func (g Gaze) Sample() EyeSample { return Reconstruct(g.X, g.Y) }

// eyeAddresses names the store slots feeding one eye.
type eyeAddresses struct {
	x, y, open, wide, squint tracking.Address

	innerUp, outerUp, pinch, lowerer tracking.Address
}

var (
	leftEye = eyeAddresses{
		x: tracking.EyeLeftX, y: tracking.EyeLeftY,
		open: tracking.EyeOpenLeft, wide: tracking.EyeWideLeft, squint: tracking.EyeSquintLeft,
		innerUp: tracking.BrowInnerUpLeft, outerUp: tracking.BrowOuterUpLeft,
		pinch: tracking.BrowPinchLeft, lowerer: tracking.BrowLowererLeft,
	}
	rightEye = eyeAddresses{
		x: tracking.EyeRightX, y: tracking.EyeRightY,
		open: tracking.EyeOpenRight, wide: tracking.EyeWideRight, squint: tracking.EyeSquintRight,
		innerUp: tracking.BrowInnerUpRight, outerUp: tracking.BrowOuterUpRight,
		pinch: tracking.BrowPinchRight, lowerer: tracking.BrowLowererRight,
	}
)

// eyeFrom builds one eye's sample from the snapshot, applying axis
// inversion before reconstruction.
func eyeFrom(s *tracking.Snapshot, a eyeAddresses, invertX, invertY bool) EyeSample {
	var g Gaze
	g.Set(s.Get(a.x), s.Get(a.y))
	if invertX {
		g.SetX(-g.X)
	}
	if invertY {
		g.SetY(-g.Y)
	}
	e := g.Sample()
	e.Eyelid = s.Get(a.open)
	e.Widen = s.Get(a.wide)
	e.Squeeze = s.Get(a.squint)
	e.InnerBrowVertical, e.OuterBrowVertical = brows(
		s.Get(a.innerUp), s.Get(a.outerUp), s.Get(a.pinch), s.Get(a.lowerer))
	return e
}

// brows treats lowerer activity as counteracting raise activity.
func brows(innerUp, outerUp, pinch, lowerer float32) (inner, outer float32) {
	l := pinch - lowerer
	return innerUp - l, outerUp - l
}

// EyeFuser combines left and right samples into the combined eye. It keeps
// the last valid combined rotation so a transient dropout holds the gaze
// instead of snapping to identity.
type EyeFuser struct {
	mu   sync.Mutex
	last r3.Rotation
}

// NewEyeFuser returns a fuser whose latch starts at identity.
func NewEyeFuser() *EyeFuser {
	return &EyeFuser{last: Identity}
}

// Combine fuses one tick's samples. Eyelid is the max of both sides so a
// blink on either closes the combined eye. Rotation is the slerp midpoint
// when both sides track, the tracking side when only one does, and the
// latched rotation otherwise. A latched result is not Valid.
func (f *EyeFuser) Combine(left, right EyeSample) EyeSample {
	c := EyeSample{
		Eyelid:            max(left.Eyelid, right.Eyelid),
		Widen:             (left.Widen + right.Widen) / 2,
		Squeeze:           (left.Squeeze + right.Squeeze) / 2,
		InnerBrowVertical: (left.InnerBrowVertical + right.InnerBrowVertical) / 2,
		OuterBrowVertical: (left.OuterBrowVertical + right.OuterBrowVertical) / 2,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch lt, rt := left.Tracking(), right.Tracking(); {
	case lt && rt:
		c.Rotation = slerp(left.Rotation, right.Rotation, 0.5)
		c.Valid = true
	case lt:
		c.Rotation = left.Rotation
		c.Valid = true
	case rt:
		c.Rotation = right.Rotation
		c.Valid = true
	default:
		c.Rotation = f.last
	}
	if c.Valid {
		f.last = c.Rotation
	}
	c.Direction = c.Rotation.Rotate(forward)
	c.Yaw, c.Pitch = angles(c.Direction)
	return c
}

// Last returns the latched rotation.
func (f *EyeFuser) Last() r3.Rotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Reset returns the latch to identity.
func (f *EyeFuser) Reset() {
	f.mu.Lock()
	f.last = Identity
	f.mu.Unlock()
}
