package guidance

import "math"

// Point is a pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a pixel-space bounding box anchored at its top-left corner.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the box midpoint.
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Face is one detection returned by the oracle. Eye keypoints are optional.
type Face struct {
	Box      Box     `json:"box"`
	LeftEye  *Point  `json:"left_eye,omitempty"`
	RightEye *Point  `json:"right_eye,omitempty"`
	Score    float64 `json:"score"`
}

// Signals are the framing measurements for a single face.
type Signals struct {
	CenterErrorPct float64
	FaceScalePct   float64
	RollDeg        float64
	// HasRoll is false when an eye keypoint is missing; the angle check then passes.
	HasRoll bool
}

// Measure computes framing signals for face within a frameW×frameH frame.
func Measure(face Face, frameW, frameH int) Signals {
	if frameW <= 0 || frameH <= 0 {
		return Signals{}
	}
	w, h := float64(frameW), float64(frameH)
	center := face.Box.Center()
	dx := center.X - w/2
	dy := center.Y - h/2
	halfDiagonal := math.Hypot(w, h) / 2

	s := Signals{
		CenterErrorPct: math.Hypot(dx, dy) / halfDiagonal * 100,
		FaceScalePct:   face.Box.Height / h * 100,
	}
	if face.LeftEye != nil && face.RightEye != nil {
		s.RollDeg = eyeLineAngle(*face.LeftEye, *face.RightEye)
		s.HasRoll = true
	}
	return s
}

// eyeLineAngle returns the eye-line angle folded into (-90, 90] so that
// mirrored keypoint order does not read as a half-turn.
func eyeLineAngle(left, right Point) float64 {
	deg := math.Atan2(right.Y-left.Y, right.X-left.X) * 180 / math.Pi
	switch {
	case deg > 90:
		deg -= 180
	case deg <= -90:
		deg += 180
	}
	return deg
}
