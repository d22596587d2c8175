// Package tracking holds the closed set of tracking addresses and the
// concurrently accessed parameter store the ingestion loop writes into.
package tracking

import "strings"

// Address identifies one tracked feature. The value is an index into the
// parameter store.
type Address int

// Feature addresses. The order is the store layout; append only.
const (
	BrowInnerUpLeft Address = iota
	BrowInnerUpRight
	BrowLowererLeft
	BrowLowererRight
	BrowOuterUpLeft
	BrowOuterUpRight
	BrowPinchLeft
	BrowPinchRight
	CheekPuffSuckLeft
	CheekPuffSuckRight
	CheekSquintLeft
	CheekSquintRight
	MouthDimpleLeft
	MouthDimpleRight
	EyeLeftX
	EyeLeftY
	EyeRightX
	EyeRightY
	EyeOpenLeft
	EyeOpenRight
	EyeSquintLeft
	EyeSquintRight
	EyeWideLeft
	EyeWideRight
	JawForward
	JawLeft
	JawOpen
	JawRight
	LipFunnelLowerLeft
	LipFunnelLowerRight
	LipFunnelUpperLeft
	LipFunnelUpperRight
	LipPuckerLowerLeft
	LipPuckerLowerRight
	LipPuckerUpperLeft
	LipPuckerUpperRight
	LipSuckLowerLeft
	LipSuckLowerRight
	LipSuckUpperLeft
	LipSuckUpperRight
	MouthClosed
	MouthFrownLeft
	MouthFrownRight
	MouthLowerDownLeft
	MouthLowerDownRight
	MouthLowerX
	MouthPressLeft
	MouthPressRight
	MouthRaiserLower
	MouthRaiserUpper
	MouthSmileLeft
	MouthSmileRight
	MouthStretchLeft
	MouthStretchRight
	MouthTightenerLeft
	MouthTightenerRight
	MouthUpperUpLeft
	MouthUpperUpRight
	MouthUpperX
	NoseSneerLeft
	NoseSneerRight
	TongueOut
	TongueRoll
	TongueX
	TongueY

	// Split features sent by face-weight sources instead of the combined
	// v2 parameters above.
	CheekPuffLeft
	CheekPuffRight
	CheekSuckLeft
	CheekSuckRight
	MouthCornerPullLeft
	MouthCornerPullRight
	MouthCornerSlantLeft
	MouthCornerSlantRight
	TongueRetreat

	// Per-region confidence from face-confidence sources.
	UpperFaceConfidence
	LowerFaceConfidence

	NumAddresses
)

// Address namespaces.
const (
	V2Prefix         = "/avatar/parameters/v2/"
	LegacyV2Prefix   = "/avatar/parameters/FT/v2/"
	FaceWeightPrefix = "/sl/xrfb/facew/"
	FaceConfPrefix   = "/sl/xrfb/facec/"
)

// Category partitions addresses for liveness tracking.
type Category int

const (
	CategoryEye Category = iota
	CategoryMouth
	CategoryOther

	numCategories
)

func (c Category) String() string {
	switch c {
	case CategoryEye:
		return "eye"
	case CategoryMouth:
		return "mouth"
	case CategoryOther:
		return "other"
	}
	return "unknown"
}

var names = [NumAddresses]string{
	"BrowInnerUpLeft", "BrowInnerUpRight", "BrowLowererLeft", "BrowLowererRight",
	"BrowOuterUpLeft", "BrowOuterUpRight", "BrowPinchLeft", "BrowPinchRight",
	"CheekPuffSuckLeft", "CheekPuffSuckRight", "CheekSquintLeft", "CheekSquintRight",
	"MouthDimpleLeft", "MouthDimpleRight", "EyeLeftX", "EyeLeftY", "EyeRightX", "EyeRightY",
	"EyeOpenLeft", "EyeOpenRight", "EyeSquintLeft", "EyeSquintRight", "EyeWideLeft", "EyeWideRight",
	"JawForward", "JawLeft", "JawOpen", "JawRight", "LipFunnelLowerLeft", "LipFunnelLowerRight",
	"LipFunnelUpperLeft", "LipFunnelUpperRight", "LipPuckerLowerLeft", "LipPuckerLowerRight",
	"LipPuckerUpperLeft", "LipPuckerUpperRight", "LipSuckLowerLeft", "LipSuckLowerRight",
	"LipSuckUpperLeft", "LipSuckUpperRight", "MouthClosed", "MouthFrownLeft", "MouthFrownRight",
	"MouthLowerDownLeft", "MouthLowerDownRight", "MouthLowerX", "MouthPressLeft", "MouthPressRight",
	"MouthRaiserLower", "MouthRaiserUpper", "MouthSmileLeft", "MouthSmileRight", "MouthStretchLeft",
	"MouthStretchRight", "MouthTightenerLeft", "MouthTightenerRight", "MouthUpperUpLeft",
	"MouthUpperUpRight", "MouthUpperX", "NoseSneerLeft", "NoseSneerRight", "TongueOut", "TongueRoll",
	"TongueX", "TongueY",
	"CheekPuffLeft", "CheekPuffRight", "CheekSuckLeft", "CheekSuckRight",
	"MouthCornerPullLeft", "MouthCornerPullRight", "MouthCornerSlantLeft", "MouthCornerSlantRight",
	"TongueRetreat",
	"UpperFace", "LowerFace",
}

var (
	lookup     map[string]Address
	categories [NumAddresses]Category
)

func init() {
	lookup = make(map[string]Address, int(NumAddresses)*3)
	for i, name := range names {
		a := Address(i)
		switch a {
		case UpperFaceConfidence, LowerFaceConfidence:
			lookup[FaceConfPrefix+name] = a
			categories[a] = CategoryOther
			continue
		}
		lookup[V2Prefix+name] = a
		lookup[LegacyV2Prefix+name] = a
		lookup[FaceWeightPrefix+name] = a
		categories[a] = categoryOf(name)
	}
}

func categoryOf(name string) Category {
	switch {
	case strings.HasPrefix(name, "Eye"):
		return CategoryEye
	case strings.HasPrefix(name, "Mouth"), strings.HasPrefix(name, "Jaw"),
		strings.HasPrefix(name, "Lip"), strings.HasPrefix(name, "Tongue"),
		strings.HasPrefix(name, "Cheek"):
		return CategoryMouth
	}
	return CategoryOther
}

// Lookup maps a wire address to its feature. Unknown addresses report false.
func Lookup(address string) (Address, bool) {
	a, ok := lookup[address]
	return a, ok
}

// Valid reports whether a is a member of the enumeration.
func (a Address) Valid() bool { return a >= 0 && a < NumAddresses }

// Name is the feature name without namespace, e.g. "EyeLeftX".
func (a Address) Name() string {
	if !a.Valid() {
		return "invalid"
	}
	return names[a]
}

func (a Address) String() string { return a.Name() }

// Path is the canonical v2 wire address for a. Region confidences use the
// face-confidence namespace.
func (a Address) Path() string {
	switch a {
	case UpperFaceConfidence, LowerFaceConfidence:
		return FaceConfPrefix + names[a]
	}
	return V2Prefix + a.Name()
}

// Category returns the liveness category a belongs to.
func (a Address) Category() Category {
	if !a.Valid() {
		return CategoryOther
	}
	return categories[a]
}

