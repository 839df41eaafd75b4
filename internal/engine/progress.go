package engine

import (
	"math"
	"sync"
)

// Stage names one step of the pipeline.
type Stage string

const (
	StagePrepare   Stage = "prepare"
	StageNarration Stage = "narration"
	StageLoad      Stage = "load"
	StageCapture   Stage = "capture"
	StageReconcile Stage = "reconcile"
	StageMix       Stage = "mix"
	StageEncode    Stage = "encode"
)

type span struct{ lo, hi float64 }

// Share of the unified progress bar per stage.
var stageSpans = map[Stage]span{
	StagePrepare:   {0, 5},
	StageNarration: {5, 30},
	StageLoad:      {30, 35},
	StageCapture:   {35, 90},
	StageReconcile: {90, 90},
	StageMix:       {90, 92},
	StageEncode:    {92, 100},
}

// Event is one progress update. Percent never decreases within a job.
type Event struct {
	JobID   string  `json:"job_id"`
	Stage   Stage   `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// ProgressFunc receives events in order from the job's goroutine.
type ProgressFunc func(Event)

type reporter struct {
	jobID string
	fn    ProgressFunc

	mu   sync.Mutex
	last float64
}

func newReporter(jobID string, fn ProgressFunc) *reporter {
	return &reporter{jobID: jobID, fn: fn}
}

// at maps fraction in [0,1] of stage onto the overall 0..100 range.
func (r *reporter) at(stage Stage, fraction float64, msg string) {
	sp := stageSpans[stage]
	fraction = math.Max(0, math.Min(1, fraction))
	pct := sp.lo + (sp.hi-sp.lo)*fraction

	r.mu.Lock()
	if pct < r.last {
		pct = r.last
	}
	r.last = pct
	r.mu.Unlock()

	if r.fn != nil {
		r.fn(Event{JobID: r.jobID, Stage: stage, Percent: math.Round(pct*10) / 10, Message: msg})
	}
}

func (r *reporter) percent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
