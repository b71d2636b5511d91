// Package pose turns body landmarks into a reach estimate for the monitored baby.
package pose

import (
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

// Pose landmark indices following the MediaPipe 33-point layout.
const (
	Nose          = 0
	LeftShoulder  = 11
	RightShoulder = 12
	LeftElbow     = 13
	RightElbow    = 14
	LeftWrist     = 15
	RightWrist    = 16
	LeftHip       = 23
	RightHip      = 24
	NumLandmarks  = 33
)

const (
	// ReachThreshold is the primary-arm score above which the baby counts as reaching
	ReachThreshold = 75.0

	epsilon = 0.001
)

// Arm identifies which arm is doing the reaching
type Arm int

const (
	ArmNone Arm = iota
	ArmLeft
	ArmRight
)

var armNames = map[Arm]string{
	ArmNone:  "none",
	ArmLeft:  "left",
	ArmRight: "right",
}

// String returns the lowercase arm name
func (a Arm) String() string {
	if name, ok := armNames[a]; ok {
		return name
	}
	return "none"
}

// MarshalText encodes the arm as its name.
func (a Arm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts "left", "right" or "none".
func (a *Arm) UnmarshalText(text []byte) error {
	switch string(text) {
	case "left":
		*a = ArmLeft
	case "right":
		*a = ArmRight
	case "none", "":
		*a = ArmNone
	default:
		return fmt.Errorf("invalid arm: %q", text)
	}
	return nil
}

// ReachState summarizes the reach posture found in one frame.
type ReachState struct {
	IsReaching   bool         `json:"is_reaching"`
	ReachScore   float64      `json:"reach_score"`   // Clamped to [0, 100]
	ArmExtension float64      `json:"arm_extension"` // Unclamped primary-arm score
	BodyLean     float64      `json:"body_lean"`
	PrimaryArm   Arm          `json:"primary_arm"`
	HandPosition *image.Point `json:"hand_position,omitempty"`
}

// Reaching reports whether s is present and actively reaching.
func (s *ReachState) Reaching() bool {
	return s != nil && s.IsReaching
}

type skeleton struct {
	leftShoulder, rightShoulder r3.Vector
	leftElbow, rightElbow       r3.Vector
	leftWrist, rightWrist       r3.Vector
	leftHip, rightHip           r3.Vector
}

func lookup(landmarks []types.Landmark, idx int) (r3.Vector, error) {
	if idx >= len(landmarks) {
		return r3.Vector{}, fmt.Errorf("landmark %d missing (have %d)", idx, len(landmarks))
	}
	lm := landmarks[idx]
	v := r3.Vector{X: lm.X, Y: lm.Y, Z: lm.Z}
	if !finite(v.X) || !finite(v.Y) || !finite(v.Z) {
		return r3.Vector{}, fmt.Errorf("landmark %d is not finite", idx)
	}
	return v, nil
}

func newSkeleton(landmarks []types.Landmark) (*skeleton, error) {
	var s skeleton
	targets := []struct {
		idx int
		dst *r3.Vector
	}{
		{Nose, new(r3.Vector)},
		{LeftShoulder, &s.leftShoulder},
		{RightShoulder, &s.rightShoulder},
		{LeftElbow, &s.leftElbow},
		{RightElbow, &s.rightElbow},
		{LeftWrist, &s.leftWrist},
		{RightWrist, &s.rightWrist},
		{LeftHip, &s.leftHip},
		{RightHip, &s.rightHip},
	}
	for _, t := range targets {
		v, err := lookup(landmarks, t.idx)
		if err != nil {
			return nil, err
		}
		*t.dst = v
	}
	return &s, nil
}

// Analyze computes the reach metrics for a set of landmarks in a frame of the
// given pixel size. Incomplete or corrupt landmarks degrade to the zero
// ReachState (not reaching) instead of failing.
func Analyze(landmarks []types.Landmark, frameWidth, frameHeight int) ReachState {
	s, err := newSkeleton(landmarks)
	if err != nil {
		if len(landmarks) > 0 {
			logger.Debug("Pose", "Error calculating reach metrics: %v", err)
		}
		return ReachState{}
	}

	leftScore := armScore(s.leftShoulder, s.leftElbow, s.leftWrist)
	rightScore := armScore(s.rightShoulder, s.rightElbow, s.rightWrist)

	hipCenter := r2.Point{
		X: (s.leftHip.X + s.rightHip.X) / 2,
		Y: (s.leftHip.Y + s.rightHip.Y) / 2,
	}

	// Ties go to the right arm
	arm, score, wrist := ArmRight, rightScore, s.rightWrist
	if leftScore > rightScore {
		arm, score, wrist = ArmLeft, leftScore, s.leftWrist
	}

	if !finite(score) {
		return ReachState{}
	}

	lean := r2.Point{X: wrist.X, Y: wrist.Y}.Sub(hipCenter).Norm()
	hand := image.Pt(int(wrist.X*float64(frameWidth)), int(wrist.Y*float64(frameHeight)))

	return ReachState{
		IsReaching:   score > ReachThreshold,
		ReachScore:   math.Min(score, 100),
		ArmExtension: score,
		BodyLean:     lean * 100,
		PrimaryArm:   arm,
		HandPosition: &hand,
	}
}

// armScore is the elbow-to-wrist extension as a percentage of shoulder-to-wrist length.
func armScore(shoulder, elbow, wrist r3.Vector) float64 {
	armLength := shoulder.Distance(wrist)
	extension := elbow.Distance(wrist)
	return extension / (armLength + epsilon) * 100
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
