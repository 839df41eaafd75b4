package capture

import (
	"fmt"

	"github.com/ivlev/html2video/internal/source"
	"github.com/ivlev/html2video/internal/surface"
)

// Strategy is how frames are pulled out of a surface.
type Strategy int

const (
	// Deterministic seeks the document clock to every frame instant.
	Deterministic Strategy = iota
	// RealTimeSampled plays the document slowed down and screenshots on a wall-clock schedule.
	RealTimeSampled
)

func (s Strategy) String() string {
	switch s {
	case Deterministic:
		return "deterministic"
	case RealTimeSampled:
		return "realtime"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Probe is the runtime capability check of a loaded document.
type Probe struct {
	HasTimeline bool
	Timeline    surface.Timeline
}

// Selection is the outcome of Select with the reason logged by the pipeline.
type Selection struct {
	Strategy Strategy
	TotalMs  float64 // timeline length for Deterministic
	Reason   string
}

// ShouldProbe reports whether prepareTimeline is worth calling at all.
// Chart-driven and continuous documents never use the scripted timeline.
func ShouldProbe(doc source.Document) bool {
	return doc.Class == source.ClassScriptedTimeline && !doc.ChartDriven()
}

// Select picks the capture strategy once per job.
func Select(doc source.Document, p Probe) Selection {
	switch {
	case doc.ChartDriven():
		return Selection{Strategy: RealTimeSampled, Reason: "chart-driven document (" + doc.Category + ")"}
	case doc.Class == source.ClassContinuous:
		return Selection{Strategy: RealTimeSampled, Reason: "continuous document"}
	case !p.HasTimeline || p.Timeline.TotalMs <= 0:
		return Selection{Strategy: RealTimeSampled, Reason: "no scripted timeline"}
	default:
		return Selection{Strategy: Deterministic, TotalMs: p.Timeline.TotalMs, Reason: "scripted timeline"}
	}
}
