// Package timing reconciles the captured frame count with the audio duration.
package timing

import (
	"math"

	"github.com/ivlev/html2video/internal/capture"
)

// DefaultTolerance is the frame drift accepted without adjustment.
const DefaultTolerance = 5

// Action is what Reconcile did to the sequence.
type Action string

const (
	ActionNone     Action = "none"
	ActionPad      Action = "pad"
	ActionTruncate Action = "truncate"
)

// Resolution is the outcome of Resolve.
type Resolution struct {
	AudioSeconds   float64
	FrameSeconds   float64
	Authoritative  float64
	RequiredFrames int
}

// Resolve returns max(audio, frames/fps) and the frame count it implies.
func Resolve(audioSeconds float64, captured, fps int) Resolution {
	if audioSeconds < 0 {
		audioSeconds = 0
	}
	r := Resolution{AudioSeconds: audioSeconds}
	if fps > 0 {
		r.FrameSeconds = float64(captured) / float64(fps)
	}
	r.Authoritative = math.Max(r.AudioSeconds, r.FrameSeconds)
	r.RequiredFrames = int(math.Round(r.Authoritative * float64(fps)))
	return r
}

// Result describes a reconciled sequence.
type Result struct {
	Sequence capture.FrameSequence
	Action   Action
	Before   int
	After    int
}

// Reconcile pads with the last frame or truncates from the end so the sequence
// length matches required. Drift within tolerance is left alone.
func Reconcile(seq capture.FrameSequence, required, tolerance int) Result {
	n := seq.Len()
	res := Result{Sequence: seq, Action: ActionNone, Before: n, After: n}
	if tolerance < 0 {
		tolerance = 0
	}

	switch {
	case n > 0 && n < required-tolerance:
		paths := make([]string, required)
		copy(paths, seq.Paths)
		last := seq.Paths[n-1]
		for i := n; i < required; i++ {
			paths[i] = last
		}
		res.Sequence = capture.FrameSequence{Paths: paths, FPS: seq.FPS}
		res.Action = ActionPad
	case n > required+tolerance:
		paths := make([]string, required)
		copy(paths, seq.Paths[:required])
		res.Sequence = capture.FrameSequence{Paths: paths, FPS: seq.FPS}
		res.Action = ActionTruncate
	}
	res.After = res.Sequence.Len()
	return res
}
