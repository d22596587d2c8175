package fusion

import (
	"gonum.org/v1/gonum/spatial/r3"

	t "github.com/banshee-data/facestream/internal/tracking"
)

// Face is the canonical mouth and lower face signal set. Signed values are
// positive toward the first named pole, e.g. SmileFrownLeft > 0 is a smile.
type Face struct {
	SmileFrownLeft  float32 `json:"smile_frown_left"`
	SmileFrownRight float32 `json:"smile_frown_right"`
	DimpleLeft      float32 `json:"dimple_left"`
	DimpleRight     float32 `json:"dimple_right"`

	CheekPuffSuckLeft  float32 `json:"cheek_puff_suck_left"`
	CheekPuffSuckRight float32 `json:"cheek_puff_suck_right"`
	CheekRaiseLeft     float32 `json:"cheek_raise_left"`
	CheekRaiseRight    float32 `json:"cheek_raise_right"`

	LipUpperRaiseLeft  float32 `json:"lip_upper_raise_left"`
	LipUpperRaiseRight float32 `json:"lip_upper_raise_right"`
	LipLowerRaiseLeft  float32 `json:"lip_lower_raise_left"`
	LipLowerRaiseRight float32 `json:"lip_lower_raise_right"`
	LipUpperHorizontal float32 `json:"lip_upper_horizontal"`
	LipLowerHorizontal float32 `json:"lip_lower_horizontal"`

	PoutLeft  float32 `json:"pout_left"`
	PoutRight float32 `json:"pout_right"`

	LipTopOverturnLeft     float32 `json:"lip_top_overturn_left"`
	LipTopOverturnRight    float32 `json:"lip_top_overturn_right"`
	LipBottomOverturnLeft  float32 `json:"lip_bottom_overturn_left"`
	LipBottomOverturnRight float32 `json:"lip_bottom_overturn_right"`

	LipTopOverUnderLeft     float32 `json:"lip_top_over_under_left"`
	LipTopOverUnderRight    float32 `json:"lip_top_over_under_right"`
	LipBottomOverUnderLeft  float32 `json:"lip_bottom_over_under_left"`
	LipBottomOverUnderRight float32 `json:"lip_bottom_over_under_right"`

	StretchTightenLeft  float32 `json:"stretch_tighten_left"`
	StretchTightenRight float32 `json:"stretch_tighten_right"`
	PressLeft           float32 `json:"press_left"`
	PressRight          float32 `json:"press_right"`

	// Jaw is (right-left, -closed, forward).
	Jaw     r3.Vec  `json:"jaw"`
	JawOpen float32 `json:"jaw_open"`

	// Tongue is (x, y, out-retreat).
	Tongue     r3.Vec  `json:"tongue"`
	TongueRoll float32 `json:"tongue_roll"`

	NoseWrinkleLeft  float32 `json:"nose_wrinkle_left"`
	NoseWrinkleRight float32 `json:"nose_wrinkle_right"`
	ChinRaiseTop     float32 `json:"chin_raise_top"`
	ChinRaiseBottom  float32 `json:"chin_raise_bottom"`

	UpperConfidence float32 `json:"upper_confidence"`
	LowerConfidence float32 `json:"lower_confidence"`
}

// FuseFace derives the canonical face from a snapshot. Sources send either
// the combined v2 parameters or the split ones; unsent slots stay zero so
// the sums below cover both without branching.
func FuseFace(s *t.Snapshot) Face {
	g := s.Get
	closed := g(t.MouthClosed)
	return Face{
		SmileFrownLeft:  g(t.MouthSmileLeft) + g(t.MouthCornerPullLeft) - g(t.MouthCornerSlantLeft) - g(t.MouthFrownLeft),
		SmileFrownRight: g(t.MouthSmileRight) + g(t.MouthCornerPullRight) - g(t.MouthCornerSlantRight) - g(t.MouthFrownRight),
		DimpleLeft:      g(t.MouthDimpleLeft),
		DimpleRight:     g(t.MouthDimpleRight),

		CheekPuffSuckLeft:  g(t.CheekPuffSuckLeft) + g(t.CheekPuffLeft) - g(t.CheekSuckLeft),
		CheekPuffSuckRight: g(t.CheekPuffSuckRight) + g(t.CheekPuffRight) - g(t.CheekSuckRight),
		CheekRaiseLeft:     g(t.CheekSquintLeft),
		CheekRaiseRight:    g(t.CheekSquintRight),

		LipUpperRaiseLeft:  g(t.MouthUpperUpLeft),
		LipUpperRaiseRight: g(t.MouthUpperUpRight),
		LipLowerRaiseLeft:  g(t.MouthLowerDownLeft),
		LipLowerRaiseRight: g(t.MouthLowerDownRight),
		LipUpperHorizontal: g(t.MouthUpperX),
		LipLowerHorizontal: g(t.MouthLowerX),

		PoutLeft:  g(t.LipPuckerLowerLeft) - g(t.LipPuckerUpperLeft),
		PoutRight: g(t.LipPuckerLowerRight) - g(t.LipPuckerUpperRight),

		LipTopOverturnLeft:     g(t.LipFunnelUpperLeft),
		LipTopOverturnRight:    g(t.LipFunnelUpperRight),
		LipBottomOverturnLeft:  g(t.LipFunnelLowerLeft),
		LipBottomOverturnRight: g(t.LipFunnelLowerRight),

		LipTopOverUnderLeft:     -g(t.LipSuckUpperLeft),
		LipTopOverUnderRight:    -g(t.LipSuckUpperRight),
		LipBottomOverUnderLeft:  -g(t.LipSuckLowerLeft),
		LipBottomOverUnderRight: -g(t.LipSuckLowerRight),

		StretchTightenLeft:  g(t.MouthStretchLeft) - g(t.MouthTightenerLeft),
		StretchTightenRight: g(t.MouthStretchRight) - g(t.MouthTightenerRight),
		PressLeft:           g(t.MouthPressLeft),
		PressRight:          g(t.MouthPressRight),

		Jaw: r3.Vec{
			X: float64(g(t.JawRight) - g(t.JawLeft)),
			Y: float64(-closed),
			Z: float64(g(t.JawForward)),
		},
		JawOpen: clamp01(g(t.JawOpen) - closed),

		Tongue: r3.Vec{
			X: float64(g(t.TongueX)),
			Y: float64(g(t.TongueY)),
			Z: float64(g(t.TongueOut) - g(t.TongueRetreat)),
		},
		TongueRoll: g(t.TongueRoll),

		NoseWrinkleLeft:  g(t.NoseSneerLeft),
		NoseWrinkleRight: g(t.NoseSneerRight),
		ChinRaiseTop:     g(t.MouthRaiserUpper),
		ChinRaiseBottom:  g(t.MouthRaiserLower),

		UpperConfidence: g(t.UpperFaceConfidence),
		LowerConfidence: g(t.LowerFaceConfidence),
	}
}
