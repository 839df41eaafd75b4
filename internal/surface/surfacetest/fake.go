// Package surfacetest provides an in-memory surface.Surface for tests.
package surfacetest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/ivlev/html2video/internal/source"
	"github.com/ivlev/html2video/internal/surface"
)

// Fake records every call. Zero value is a document without hooks.
type Fake struct {
	TimelineMs   float64 // > 0 enables prepareTimeline/seekTo
	SlowMotion   bool
	SlowMotionMs float64
	FinishAfter  int // IsFinished turns true after this many screenshots; 0 = never

	LoadErr       error
	ScreenshotErr error
	// OnScreenshot runs before each screenshot with its 1-based number.
	OnScreenshot func(n int)

	mu       sync.Mutex
	Loaded   source.Document
	Seeks    []float64
	Overlays []surface.Overlay
	Speed    float64
	Shots    int
	Closed   bool
	Probed   bool
}

var _ surface.Surface = (*Fake)(nil)

func (f *Fake) Load(ctx context.Context, doc source.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoadErr != nil {
		return f.LoadErr
	}
	f.Loaded = doc
	return ctx.Err()
}

func (f *Fake) InjectOverlay(_ context.Context, o surface.Overlay) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Overlays = append(f.Overlays, o)
	return nil
}

func (f *Fake) PrepareTimeline(context.Context) (surface.Timeline, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Probed = true
	if f.TimelineMs <= 0 {
		return surface.Timeline{}, false, nil
	}
	return surface.Timeline{TotalMs: f.TimelineMs}, true, nil
}

func (f *Fake) Seek(ctx context.Context, ms float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Seeks = append(f.Seeks, ms)
	return ctx.Err()
}

func (f *Fake) StartSlowMotion(_ context.Context, speed float64) (surface.Playback, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Speed = speed
	if !f.SlowMotion {
		return surface.Playback{}, false, nil
	}
	return surface.Playback{TotalMs: f.SlowMotionMs}, true, nil
}

func (f *Fake) IsFinished(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FinishAfter > 0 && f.Shots >= f.FinishAfter, nil
}

func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	n := f.Shots + 1
	hook := f.OnScreenshot
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScreenshotErr != nil {
		return nil, f.ScreenshotErr
	}
	f.Shots = n
	return Frame(uint8(n)), nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Frame encodes a 4x4 PNG whose red channel is shade.
func Frame(shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: shade, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
