// Package surface drives a headless browser page that renders one animation document.
package surface

import (
	"context"
	"errors"

	"github.com/ivlev/html2video/internal/source"
)

// ErrLoad marks a document that failed to load within the timeout. Fatal for the job.
var ErrLoad = errors.New("render surface failed to load document")

// Timeline is returned by a document exposing prepareTimeline/seekTo.
type Timeline struct {
	TotalMs float64
}

// Playback is returned by a document exposing startSlowMotionAnimation.
// TotalMs is real (slowed) time; zero means the page did not report it.
type Playback struct {
	TotalMs float64
}

// Overlay is a positioned image node appended to the page before capture.
type Overlay struct {
	DataURI  string  // image/png data URI
	Position string  // one of the nine anchors
	Opacity  float64 // 0..1
	// HeightVH is the overlay height in viewport-height units.
	HeightVH float64
}

// Surface is a single stateful page. Calls must be serialized by the caller.
type Surface interface {
	Load(ctx context.Context, doc source.Document) error
	InjectOverlay(ctx context.Context, o Overlay) error
	// PrepareTimeline reports false when the document has no scripted timeline.
	PrepareTimeline(ctx context.Context) (Timeline, bool, error)
	Seek(ctx context.Context, ms float64) error
	// StartSlowMotion reports false when the document has no slow-motion hook.
	StartSlowMotion(ctx context.Context, speed float64) (Playback, bool, error)
	IsFinished(ctx context.Context) (bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Factory opens a fresh surface for each job.
type Factory func() Surface
