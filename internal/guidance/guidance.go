package guidance

import (
	"math"

	"rehearse/internal/config"
)

// Level is the four-level alignment indicator.
type Level string

const (
	LevelIdle     Level = "idle"
	LevelAligning Level = "aligning"
	LevelAlmost   Level = "almost"
	LevelOK       Level = "ok"
)

// Reason explains why the current frame is not in range.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonDeviceNotReady Reason = "camera not ready"
	ReasonNoFace         Reason = "no face detected"
	ReasonMultipleFaces  Reason = "only one person"
	ReasonTooFar         Reason = "move closer"
	ReasonTooClose       Reason = "move back"
	ReasonTilted         Reason = "level your head"
	ReasonOffCenter      Reason = "center your face"
	ReasonDetectorError  Reason = "face detection unavailable"
)

// Policy holds the framing thresholds.
type Policy struct {
	MaxCenterErrorPct float64
	MinFaceScalePct   float64
	MaxFaceScalePct   float64
	MaxRollDeg        float64
	StableFrames      int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MaxCenterErrorPct: 25,
		MinFaceScalePct:   12,
		MaxFaceScalePct:   75,
		MaxRollDeg:        30,
		StableFrames:      3,
	}
}

// PolicyFromConfig maps guidance configuration to a Policy.
func PolicyFromConfig(cfg *config.Config) Policy {
	if cfg == nil {
		return DefaultPolicy()
	}
	g := cfg.Guidance
	return Policy{
		MaxCenterErrorPct: g.MaxCenterErrorPct,
		MinFaceScalePct:   g.MinFaceScalePct,
		MaxFaceScalePct:   g.MaxFaceScalePct,
		MaxRollDeg:        g.MaxRollDegrees,
		StableFrames:      g.StableFrames,
	}
}

// Observation is the oracle result for one frame.
type Observation struct {
	DeviceReady bool
	FrameWidth  int
	FrameHeight int
	Faces       []Face
	Err         error
}

// Sample is the guidance output for one frame.
type Sample struct {
	Seq              uint64
	Level            Level
	Reason           Reason
	Signals          Signals
	Faces            int
	StableFrameCount int
	InRange          bool
}

// Initial returns the sample shown before the first frame is evaluated.
func Initial(deviceReady bool) Sample {
	if !deviceReady {
		return Sample{Level: LevelIdle, Reason: ReasonDeviceNotReady}
	}
	return Sample{Level: LevelAligning}
}

// Step evaluates one observation against the previous sample.
func Step(p Policy, prev Sample, obs Observation) Sample {
	next := Sample{Seq: prev.Seq + 1, Faces: len(obs.Faces)}

	switch {
	case !obs.DeviceReady:
		next.Level = LevelIdle
		next.Reason = ReasonDeviceNotReady
		next.Faces = 0
		return next
	case obs.Err != nil:
		next.Level = LevelAligning
		next.Reason = ReasonDetectorError
		next.Faces = 0
		return next
	case len(obs.Faces) == 0:
		next.Level = LevelAligning
		next.Reason = ReasonNoFace
		return next
	case len(obs.Faces) > 1:
		next.Level = LevelAligning
		next.Reason = ReasonMultipleFaces
		return next
	}

	next.Signals = Measure(obs.Faces[0], obs.FrameWidth, obs.FrameHeight)
	if reason := p.violation(next.Signals); reason != ReasonNone {
		next.Level = LevelAligning
		next.Reason = reason
		return next
	}

	next.InRange = true
	next.StableFrameCount = prev.StableFrameCount + 1
	if next.StableFrameCount >= p.stableFrames() {
		next.Level = LevelOK
	} else {
		next.Level = LevelAlmost
	}
	return next
}

// violation returns the highest-priority failed check: scale, then angle,
// then centre.
func (p Policy) violation(s Signals) Reason {
	switch {
	case s.FaceScalePct < p.MinFaceScalePct:
		return ReasonTooFar
	case s.FaceScalePct > p.MaxFaceScalePct:
		return ReasonTooClose
	case s.HasRoll && math.Abs(s.RollDeg) > p.MaxRollDeg:
		return ReasonTilted
	case s.CenterErrorPct > p.MaxCenterErrorPct:
		return ReasonOffCenter
	default:
		return ReasonNone
	}
}

func (p Policy) stableFrames() int {
	if p.StableFrames < 1 {
		return 1
	}
	return p.StableFrames
}

// Message is the user-facing hint for a sample.
func Message(s Sample) string {
	switch s.Level {
	case LevelOK:
		return "Looking good"
	case LevelAlmost:
		return "Hold still"
	default:
		if s.Reason == ReasonNone {
			return "Getting ready"
		}
		return string(s.Reason)
	}
}
