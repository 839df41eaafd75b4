package capture

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/html2video/internal/surface"
)

// ProgressFunc receives the number of frames captured and the planned total.
type ProgressFunc func(captured, planned int)

// Sampler pulls frames from one surface into one store. Not safe for concurrent use.
type Sampler struct {
	Surface  surface.Surface
	Store    *FrameStore
	FPS      int
	Clock    Clock
	Log      *logrus.Entry
	Progress ProgressFunc
}

// RealTimeOptions tunes slow-motion sampling.
type RealTimeOptions struct {
	Speed       float64 // playback multiplier, < 1
	GuardFrames int     // extra iterations past the planned count while waiting for the finished flag
	// HintSeconds is the expected output duration when the page does not report one.
	HintSeconds float64
}

// DeterministicFrameCount is ceil(totalMs/1000*fps).
func DeterministicFrameCount(totalMs float64, fps int) int {
	if totalMs <= 0 || fps <= 0 {
		return 0
	}
	// 1e-9 гасит ошибку округления: 5000мс@30 = ровно 150
	return int(math.Ceil(totalMs*float64(fps)/1000 - 1e-9))
}

// SeekTimes lists the document instants visited by deterministic sampling.
func SeekTimes(totalMs float64, fps int) []float64 {
	n := DeterministicFrameCount(totalMs, fps)
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) * 1000 / float64(fps)
	}
	return times
}

// RealTimeInterval is the wall-clock gap between screenshots: (1/fps)/speed.
func RealTimeInterval(fps int, speed float64) time.Duration {
	return time.Duration(float64(time.Second) / float64(fps) / speed)
}

// PlannedRealTimeFrames is floor(videoSeconds*fps).
func PlannedRealTimeFrames(videoSeconds float64, fps int) int {
	if videoSeconds <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Floor(videoSeconds*float64(fps) + 1e-9))
}

// Deterministic seeks the timeline frame by frame. ctx is checked every iteration;
// on cancellation the frames captured so far are returned with ctx.Err().
func (s *Sampler) Deterministic(ctx context.Context, totalMs float64) (FrameSequence, error) {
	times := SeekTimes(totalMs, s.FPS)
	planned := len(times)
	s.logger().WithFields(logrus.Fields{
		"total_ms": totalMs,
		"frames":   planned,
	}).Info("deterministic capture")

	for i, ms := range times {
		if err := ctx.Err(); err != nil {
			return s.Store.Sequence(s.FPS), err
		}
		if err := s.Surface.Seek(ctx, ms); err != nil {
			return s.Store.Sequence(s.FPS), s.wrap(ctx, fmt.Sprintf("seek %.3fms", ms), err)
		}
		if err := s.shoot(ctx); err != nil {
			return s.Store.Sequence(s.FPS), err
		}
		s.report(i+1, planned)
	}
	return s.finish()
}

// RealTime starts the slowed playback and samples it on absolute wake instants.
func (s *Sampler) RealTime(ctx context.Context, opts RealTimeOptions) (FrameSequence, error) {
	if opts.Speed <= 0 {
		return FrameSequence{}, fmt.Errorf("speed ratio must be positive, got %g", opts.Speed)
	}
	clock := s.Clock
	if clock == nil {
		clock = WallClock{}
	}

	pb, hasHook, err := s.Surface.StartSlowMotion(ctx, opts.Speed)
	if err != nil {
		return FrameSequence{}, s.wrap(ctx, "start slow motion", err)
	}

	realMs := pb.TotalMs
	if !hasHook || realMs <= 0 {
		realMs = opts.HintSeconds / opts.Speed * 1000
	}
	videoSeconds := realMs / 1000 * opts.Speed
	planned := PlannedRealTimeFrames(videoSeconds, s.FPS)
	// Запас кадров нужен только чтобы дождаться флага завершения
	limit := planned
	if hasHook {
		limit += opts.GuardFrames
	}
	interval := RealTimeInterval(s.FPS, opts.Speed)

	s.logger().WithFields(logrus.Fields{
		"speed":         opts.Speed,
		"video_seconds": fmt.Sprintf("%.2f", videoSeconds),
		"real_seconds":  fmt.Sprintf("%.1f", realMs/1000),
		"frames":        planned,
		"interval":      interval,
		"hook":          hasHook,
	}).Info("real-time capture")

	next := clock.Now().Add(interval)
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return s.Store.Sequence(s.FPS), err
		}
		if err := clock.SleepUntil(ctx, next); err != nil {
			return s.Store.Sequence(s.FPS), err
		}
		if hasHook {
			done, err := s.Surface.IsFinished(ctx)
			if err != nil {
				return s.Store.Sequence(s.FPS), s.wrap(ctx, "finished flag", err)
			}
			if done {
				s.logger().WithField("frames", s.Store.Len()).Info("animation finished")
				break
			}
		}
		if err := s.shoot(ctx); err != nil {
			return s.Store.Sequence(s.FPS), err
		}
		// Расписание от абсолютного времени, а не от момента скриншота
		next = next.Add(interval)
		s.report(i+1, planned)
	}
	return s.finish()
}

func (s *Sampler) shoot(ctx context.Context) error {
	png, err := s.Surface.Screenshot(ctx)
	if err != nil {
		return s.wrap(ctx, "screenshot", err)
	}
	if _, err := s.Store.Add(png); err != nil {
		return err
	}
	return nil
}

func (s *Sampler) finish() (FrameSequence, error) {
	seq := s.Store.Sequence(s.FPS)
	if seq.Len() == 0 {
		return seq, ErrNoFrames
	}
	return seq, nil
}

func (s *Sampler) report(captured, planned int) {
	if s.Progress != nil {
		s.Progress(captured, planned)
	}
}

// wrap keeps cancellation distinguishable from surface failures.
func (s *Sampler) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Sampler) logger() *logrus.Entry {
	if s.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return s.Log
}
