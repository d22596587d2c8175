// Package fusion turns a parameter snapshot into the canonical eye and face
// signals handed to the host on each tick.
package fusion

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// TrackingEyelidThreshold is the openness above which a valid gaze is trusted.
const TrackingEyelidThreshold = 0.1

var (
	forward = r3.Vec{Z: 1}
	yAxis   = r3.Vec{Y: 1}
	xAxis   = r3.Vec{X: 1}

	// Identity is the rotation that leaves forward unchanged.
	Identity = r3.Rotation{Real: 1}
)

// EyeSample is one eye's derived state for a single tick.
type EyeSample struct {
	Rotation  r3.Rotation `json:"rotation"`
	Direction r3.Vec      `json:"direction"`
	Yaw       float64     `json:"yaw_deg"`
	Pitch     float64     `json:"pitch_deg"`

	// Valid is false when the reconstructed direction was NaN, infinite or
	// zero. Invalid samples carry the identity rotation so they stay
	// serializable.
	Valid bool `json:"valid"`

	Eyelid            float32 `json:"eyelid"`
	Widen             float32 `json:"widen"`
	Squeeze           float32 `json:"squeeze"`
	InnerBrowVertical float32 `json:"inner_brow_vertical"`
	OuterBrowVertical float32 `json:"outer_brow_vertical"`
}

// NeutralEye is the sample published for an inactive eye.
func NeutralEye() EyeSample {
	return EyeSample{Rotation: Identity, Direction: forward}
}

// Tracking is Valid with the eyelid open enough to trust the direction.
func (s EyeSample) Tracking() bool {
	return s.Valid && s.Eyelid > TrackingEyelidThreshold
}

// validDirection reports whether d is finite and non-zero.
func validDirection(d r3.Vec) bool {
	for _, c := range [3]float64{d.X, d.Y, d.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return r3.Norm(d) > 0
}

// Reconstruct converts normalized horizontal and vertical deflection in
// [-1, 1] into a rotation. yaw = asin(x) and pitch = asin(y), in degrees,
// with no roll. Deflection outside [-1, 1] or NaN input yields an invalid
// sample.
func Reconstruct(x, y float32) EyeSample {
	yaw := math.Asin(float64(x)) * 180 / math.Pi
	pitch := math.Asin(float64(y)) * 180 / math.Pi
	rot := euler(pitch, yaw)
	dir := rot.Rotate(forward)
	if !validDirection(dir) {
		return NeutralEye()
	}
	return EyeSample{
		Rotation:  rot,
		Direction: dir,
		Yaw:       yaw,
		Pitch:     pitch,
		Valid:     true,
	}
}

// euler composes yaw about Y after pitch about X, both in degrees.
func euler(pitchDeg, yawDeg float64) r3.Rotation {
	qy := r3.NewRotation(yawDeg*math.Pi/180, yAxis)
	qx := r3.NewRotation(pitchDeg*math.Pi/180, xAxis)
	return r3.Rotation(quat.Mul(quat.Number(qy), quat.Number(qx)))
}

// angles recovers yaw and pitch in degrees from a direction produced by euler.
func angles(d r3.Vec) (yaw, pitch float64) {
	n := r3.Norm(d)
	if n == 0 {
		return 0, 0
	}
	d = r3.Scale(1/n, d)
	yaw = math.Atan2(d.X, d.Z) * 180 / math.Pi
	pitch = math.Asin(clamp(-d.Y, -1, 1)) * 180 / math.Pi
	return yaw, pitch
}

// slerp interpolates unit quaternions along the shorter arc.
func slerp(a, b r3.Rotation, t float64) r3.Rotation {
	qa, qb := quat.Number(a), quat.Number(b)
	dot := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	if dot < 0 {
		qb = quat.Scale(-1, qb)
		dot = -dot
	}
	if dot > 0.9995 {
		return normalize(quat.Add(qa, quat.Scale(t, quat.Sub(qb, qa))))
	}
	theta := math.Acos(dot)
	sin := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sin
	wb := math.Sin(t*theta) / sin
	return normalize(quat.Add(quat.Scale(wa, qa), quat.Scale(wb, qb)))
}

func normalize(q quat.Number) r3.Rotation {
	n := quat.Abs(q)
	if n == 0 {
		return Identity
	}
	return r3.Rotation(quat.Scale(1/n, q))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
