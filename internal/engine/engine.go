package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/html2video/internal/audio"
	"github.com/ivlev/html2video/internal/capture"
	"github.com/ivlev/html2video/internal/config"
	"github.com/ivlev/html2video/internal/surface"
	"github.com/ivlev/html2video/internal/system"
	"github.com/ivlev/html2video/internal/timing"
	"github.com/ivlev/html2video/internal/video"
	"github.com/ivlev/html2video/internal/watermark"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the job has finished one way or another.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// StageError says which step of the pipeline failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Result is the terminal outcome of Run.
type Result struct {
	JobID          string                  `json:"job_id"`
	Status         Status                  `json:"status"`
	Output         string                  `json:"output,omitempty"`
	Strategy       string                  `json:"strategy,omitempty"`
	Frames         int                     `json:"frames"`
	Captured       int                     `json:"captured"`
	Reconcile      timing.Action           `json:"reconcile,omitempty"`
	Seconds        float64                 `json:"seconds"`
	Audio          string                  `json:"audio,omitempty"`
	Watermark      bool                    `json:"watermark"`
	Error          string                  `json:"error,omitempty"`
	ElapsedSeconds float64                 `json:"elapsed_seconds"`
	Timings        map[Stage]time.Duration `json:"-"`
	FrameBytes     int64                   `json:"-"`
	Process        system.ProcessStats     `json:"-"`
}

// Pipeline turns jobs into videos. It holds no per-job state and may run
// several jobs at once; every job gets its own surface and temp directory.
type Pipeline struct {
	Config   *config.Config
	Surfaces surface.Factory
	Mixer    audio.Mixer
	Prober   audio.Prober
	Composer video.Composer
	Clock    capture.Clock // nil = wall clock
	Encoder  string        // resolved encoder; empty = Config.VideoEncoder or libx264
	Log      *logrus.Entry
	// Report receives the performance table when Config.ShowStats is set.
	Report io.Writer
}

func (p *Pipeline) encoder() string {
	if p.Encoder != "" {
		return p.Encoder
	}
	if p.Config.VideoEncoder != "" {
		return p.Config.VideoEncoder
	}
	return "libx264"
}

func (p *Pipeline) logger() *logrus.Entry {
	if p.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return p.Log
}

// Run executes one job to completion. Cancellation of ctx is not an error:
// the result has StatusCancelled and err is nil. On every exit path the
// surface is closed and the temp directory removed.
func (p *Pipeline) Run(ctx context.Context, job Job, progress ProgressFunc) (Result, error) {
	cfg := p.Config
	start := time.Now()
	log := p.logger().WithField("job_id", job.ID)
	rep := newReporter(job.ID, progress)
	res := Result{JobID: job.ID, Status: StatusRunning, Timings: map[Stage]time.Duration{}}

	stageStart := start
	mark := func(s Stage) {
		now := time.Now()
		res.Timings[s] += now.Sub(stageStart)
		stageStart = now
	}

	finish := func(stage Stage, err error) (Result, error) {
		res.ElapsedSeconds = time.Since(start).Seconds()
		_ = os.Remove(video.PartialPath(job.Output))
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			res.Status = StatusCancelled
			log.WithField("stage", stage).Warn("job cancelled")
			rep.at(stage, 0, "cancelled")
			return res, nil
		}
		res.Status = StatusFailed
		serr := &StageError{Stage: stage, Err: err}
		res.Error = serr.Error()
		log.WithField("stage", stage).WithError(err).Error("job failed")
		return res, serr
	}

	// 1. Подготовка временной директории
	rep.at(StagePrepare, 0, "preparing")
	tmp, err := os.MkdirTemp(cfg.TempRoot, system.TempPrefix+"*")
	if err != nil {
		return finish(StagePrepare, err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			log.WithError(err).Warn("failed to remove temp directory")
		}
	}()
	if dir := filepath.Dir(job.Output); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return finish(StagePrepare, err)
		}
	}
	store, err := capture.NewFrameStore(filepath.Join(tmp, "frames"))
	if err != nil {
		return finish(StagePrepare, err)
	}
	log.WithFields(logrus.Fields{
		"document": job.Document.Name(),
		"class":    job.Document.Class,
		"output":   job.Output,
		"temp":     tmp,
	}).Info("job started")
	mark(StagePrepare)

	// 2. Озвучка: ее длительность нужна до захвата
	rep.at(StageNarration, 0, "resolving narration")
	narration, err := p.narration(ctx, job, tmp, log.WithField("stage", StageNarration))
	if err != nil {
		return finish(StageNarration, err)
	}
	music := p.music(ctx, job, log.WithField("stage", StageNarration))
	if ctx.Err() != nil {
		return finish(StageNarration, ctx.Err())
	}
	audioSeconds := narration.Seconds
	if narration.Absent() {
		audioSeconds = music.Seconds
	}
	rep.at(StageNarration, 1, fmt.Sprintf("audio %.2fs", audioSeconds))
	mark(StageNarration)

	// 3. Загрузка документа
	rep.at(StageLoad, 0, "loading document")
	s := p.Surfaces()
	var closeOnce sync.Once
	closeSurface := func() {
		closeOnce.Do(func() {
			if err := s.Close(); err != nil {
				log.WithError(err).Warn("failed to close surface")
			}
		})
	}
	defer closeSurface()

	if err := s.Load(ctx, job.Document); err != nil {
		return finish(StageLoad, err)
	}
	injector := watermark.NewInjector(cfg.Fonts, log)
	res.Watermark, err = injector.Inject(ctx, s, watermark.FromConfig(cfg.Watermark))
	if err != nil {
		return finish(StageLoad, err)
	}

	var probe capture.Probe
	if capture.ShouldProbe(job.Document) {
		tl, ok, err := s.PrepareTimeline(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return finish(StageLoad, ctx.Err())
		case err != nil:
			log.WithError(err).Warn("timeline probe failed")
		default:
			probe = capture.Probe{HasTimeline: ok, Timeline: tl}
		}
	}
	sel := capture.Select(job.Document, probe)
	res.Strategy = sel.Strategy.String()
	log.WithFields(logrus.Fields{"strategy": sel.Strategy, "reason": sel.Reason}).Info("capture strategy selected")
	rep.at(StageLoad, 1, "capturing with "+sel.Strategy.String()+" strategy")
	mark(StageLoad)

	// 4. Захват кадров
	sampler := &capture.Sampler{
		Surface: s,
		Store:   store,
		FPS:     cfg.FPS,
		Clock:   p.Clock,
		Log:     log.WithField("stage", StageCapture),
		Progress: func(captured, planned int) {
			frac := 0.0
			if planned > 0 {
				frac = float64(captured) / float64(planned)
			}
			rep.at(StageCapture, frac, fmt.Sprintf("frame %d/%d", captured, planned))
		},
	}
	var seq capture.FrameSequence
	switch sel.Strategy {
	case capture.Deterministic:
		seq, err = sampler.Deterministic(ctx, sel.TotalMs)
	default:
		hint := audioSeconds
		if hint <= 0 {
			hint = cfg.FallbackDuration
		}
		seq, err = sampler.RealTime(ctx, capture.RealTimeOptions{
			Speed:       cfg.SpeedRatio,
			GuardFrames: cfg.GuardFrames,
			HintSeconds: hint,
		})
	}
	if st, serr := system.SampleProcess(); serr == nil {
		res.Process = st
	}
	closeSurface()
	res.Captured = store.Len()
	res.FrameBytes = store.Bytes()
	if err != nil {
		return finish(StageCapture, err)
	}
	mark(StageCapture)

	// 5. Сверка числа кадров с длительностью звука
	resolution := timing.Resolve(audioSeconds, seq.Len(), cfg.FPS)
	rec := timing.Reconcile(seq, resolution.RequiredFrames, cfg.FrameTolerance)
	res.Reconcile = rec.Action
	log.WithFields(logrus.Fields{
		"audio":         fmt.Sprintf("%.3fs", resolution.AudioSeconds),
		"frames_time":   fmt.Sprintf("%.3fs", resolution.FrameSeconds),
		"authoritative": fmt.Sprintf("%.3fs", resolution.Authoritative),
		"required":      resolution.RequiredFrames,
		"captured":      rec.Before,
		"action":        rec.Action,
	}).Info("frame count reconciled")
	rep.at(StageReconcile, 1, fmt.Sprintf("%d frames (%s)", rec.After, rec.Action))
	mark(StageReconcile)

	// 6. Сведение звука
	if err := ctx.Err(); err != nil {
		return finish(StageMix, err)
	}
	rep.at(StageMix, 0, "mixing audio")
	soundtrack, err := p.Mixer.Mix(ctx, narration, music, cfg.BackgroundVolume, resolution.Authoritative, filepath.Join(tmp, "soundtrack.wav"))
	if err != nil {
		return finish(StageMix, err)
	}
	res.Audio = soundtrack.Kind.String()
	rep.at(StageMix, 1, fmt.Sprintf("audio track %.2fs (%s)", soundtrack.Seconds, soundtrack.Kind))
	mark(StageMix)

	// 7. Кодирование
	if err := ctx.Err(); err != nil {
		return finish(StageEncode, err)
	}
	encoder := p.encoder()
	quality := cfg.Quality
	if quality == 0 {
		quality = video.DefaultQuality(encoder)
	}
	req := video.EncodingRequest{
		Frames:       rec.Sequence,
		Audio:        soundtrack,
		Output:       job.Output,
		Width:        cfg.Width,
		Height:       cfg.Height,
		FPS:          cfg.FPS,
		Quality:      quality,
		Encoder:      encoder,
		Preset:       cfg.EncoderSpeed,
		AudioBitrate: cfg.AudioBitrate,
	}
	rep.at(StageEncode, 0, "encoding with "+encoder)
	err = p.Composer.Compose(ctx, req, func(f float64) {
		rep.at(StageEncode, f, "encoding")
	})
	if err != nil {
		return finish(StageEncode, err)
	}
	mark(StageEncode)

	res.Status = StatusSucceeded
	res.Output = job.Output
	res.Frames = rec.After
	res.Seconds = float64(rec.After) / float64(cfg.FPS)
	res.ElapsedSeconds = time.Since(start).Seconds()
	rep.at(StageEncode, 1, "done")
	log.WithFields(logrus.Fields{
		"output":  res.Output,
		"frames":  res.Frames,
		"seconds": fmt.Sprintf("%.2f", res.Seconds),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("job finished")

	if cfg.ShowStats {
		p.writeReport(job, res, log)
	}
	return res, nil
}

// narration builds the narration track: an explicit file, per-scene clips
// with silent gaps, or nothing.
func (p *Pipeline) narration(ctx context.Context, job Job, tmp string, log *logrus.Entry) (audio.Track, error) {
	if job.NarrationFile != "" {
		secs, err := p.Prober.Duration(ctx, job.NarrationFile)
		if err != nil {
			return audio.Track{}, fmt.Errorf("narration %s: %w", job.NarrationFile, err)
		}
		log.WithFields(logrus.Fields{"path": job.NarrationFile, "seconds": secs}).Info("narration file")
		return audio.Track{Path: job.NarrationFile, Seconds: secs, Kind: audio.KindFile}, nil
	}
	if len(job.Scenes) == 0 {
		log.Info("no narration")
		return audio.Track{}, nil
	}

	segments, err := audio.PlanNarration(ctx, p.Prober, job.AudioDir, job.Topic, job.Scenes, log)
	if err != nil {
		return audio.Track{}, err
	}
	track, err := p.Mixer.Concatenate(ctx, segments, filepath.Join(tmp, "narration.wav"))
	if err != nil {
		return audio.Track{}, err
	}
	log.WithFields(logrus.Fields{
		"scenes":  len(segments),
		"seconds": fmt.Sprintf("%.2f", track.Seconds),
		"kind":    track.Kind,
	}).Info("narration assembled")
	return track, nil
}

// music probes the background track. An unusable file is dropped with a warning.
func (p *Pipeline) music(ctx context.Context, job Job, log *logrus.Entry) audio.Track {
	if job.BackgroundMusic == "" {
		return audio.Track{}
	}
	if _, err := os.Stat(job.BackgroundMusic); err != nil {
		log.WithError(err).Warn("background music not found, skipping")
		return audio.Track{}
	}
	secs, err := p.Prober.Duration(ctx, job.BackgroundMusic)
	if err != nil || secs <= 0 {
		log.WithError(err).WithField("path", job.BackgroundMusic).Warn("background music unreadable, skipping")
		return audio.Track{}
	}
	return audio.Track{Path: job.BackgroundMusic, Seconds: secs, Kind: audio.KindFile}
}
