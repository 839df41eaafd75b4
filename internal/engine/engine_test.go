package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ivlev/html2video/internal/audio"
	"github.com/ivlev/html2video/internal/capture"
	"github.com/ivlev/html2video/internal/config"
	"github.com/ivlev/html2video/internal/logging"
	"github.com/ivlev/html2video/internal/manifest"
	"github.com/ivlev/html2video/internal/source"
	"github.com/ivlev/html2video/internal/surface"
	"github.com/ivlev/html2video/internal/surface/surfacetest"
	"github.com/ivlev/html2video/internal/system"
	"github.com/ivlev/html2video/internal/timing"
	"github.com/ivlev/html2video/internal/video"
)

type fakeProber struct {
	durations map[string]float64
	fallback  float64
}

func (p fakeProber) Duration(_ context.Context, path string) (float64, error) {
	if d, ok := p.durations[filepath.Base(path)]; ok {
		return d, nil
	}
	if p.fallback > 0 {
		return p.fallback, nil
	}
	return 0, fmt.Errorf("no duration for %s", path)
}

type fakeMixer struct {
	mu       sync.Mutex
	segments []audio.Segment
	target   float64
}

func (m *fakeMixer) Concatenate(_ context.Context, segments []audio.Segment, dst string) (audio.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = segments
	return audio.Track{Path: dst, Seconds: audio.TotalSeconds(segments), Kind: audio.KindComposite}, nil
}

func (m *fakeMixer) Mix(ctx context.Context, narration, music audio.Track, _ float64, target float64, dst string) (audio.Track, error) {
	m.mu.Lock()
	m.target = target
	m.mu.Unlock()
	switch {
	case !music.Absent():
		return audio.Track{Path: dst, Seconds: target, Kind: audio.KindComposite}, nil
	case !narration.Absent():
		return narration, nil
	}
	return m.Silence(ctx, target, dst)
}

func (m *fakeMixer) Silence(_ context.Context, seconds float64, dst string) (audio.Track, error) {
	return audio.Track{Path: dst, Seconds: seconds, Kind: audio.KindSilence}, nil
}

type fakeComposer struct {
	mu    sync.Mutex
	calls int
	req   video.EncodingRequest
	err   error
}

func (c *fakeComposer) Compose(_ context.Context, req video.EncodingRequest, progress video.ProgressFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.req = req
	if c.err != nil {
		return c.err
	}
	progress(0.5)
	return os.WriteFile(req.Output, []byte("mp4"), 0644)
}

type env struct {
	cfg      *config.Config
	tempRoot string
	outDir   string
	doc      string
	mixer    *fakeMixer
	composer *fakeComposer
	prober   fakeProber
	clock    *capture.ManualClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := config.Default()
	e := &env{
		cfg:      &cfg,
		tempRoot: t.TempDir(),
		outDir:   t.TempDir(),
		mixer:    &fakeMixer{},
		composer: &fakeComposer{},
		clock:    capture.NewManualClock(time.Unix(1700000000, 0)),
	}
	cfg.TempRoot = e.tempRoot
	e.doc = filepath.Join(t.TempDir(), "anim.html")
	if err := os.WriteFile(e.doc, []byte("<html></html>"), 0644); err != nil {
		t.Fatal(err)
	}
	return e
}

func (e *env) pipeline(surfaces ...surface.Surface) *Pipeline {
	var mu sync.Mutex
	next := 0
	return &Pipeline{
		Config: e.cfg,
		Surfaces: func() surface.Surface {
			mu.Lock()
			defer mu.Unlock()
			s := surfaces[next%len(surfaces)]
			next++
			return s
		},
		Mixer:    e.mixer,
		Prober:   e.prober,
		Composer: e.composer,
		Clock:    e.clock,
		Log:      logging.Discard(),
	}
}

func (e *env) job(t *testing.T, class source.Class) Job {
	t.Helper()
	doc, err := source.Open(e.doc, class, e.cfg.ChartCategories)
	if err != nil {
		t.Fatal(err)
	}
	return Job{ID: "job-1", Document: doc, Output: filepath.Join(e.outDir, "out.mp4")}
}

func (e *env) assertClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.tempRoot)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), system.TempPrefix) {
			t.Errorf("temp directory left behind: %s", entry.Name())
		}
	}
}

func TestDeterministicSilentJob(t *testing.T) {
	e := newEnv(t)
	fake := &surfacetest.Fake{TimelineMs: 5000}

	var events []Event
	res, err := e.pipeline(fake).Run(context.Background(), e.job(t, source.ClassScriptedTimeline), func(ev Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", res.Status)
	}
	if res.Strategy != capture.Deterministic.String() {
		t.Errorf("expected deterministic strategy, got %s", res.Strategy)
	}

	req := e.composer.req
	if req.Frames.Len() != 150 {
		t.Errorf("expected 150 frames, got %d", req.Frames.Len())
	}
	if req.Audio.Kind != audio.KindSilence || req.Audio.Seconds != 5.0 {
		t.Errorf("expected 5.0s of silence, got %+v", req.Audio)
	}
	if req.Encoder != "libx264" || req.Quality != video.DefaultQuality("libx264") {
		t.Errorf("unexpected encoder settings: %s q=%d", req.Encoder, req.Quality)
	}
	if res.Seconds != 5.0 {
		t.Errorf("expected 5.0s output, got %.3f", res.Seconds)
	}
	if !fake.Closed {
		t.Error("surface was not closed")
	}
	if _, err := os.Stat(res.Output); err != nil {
		t.Errorf("output missing: %v", err)
	}
	e.assertClean(t)

	last := -1.0
	for _, ev := range events {
		if ev.Percent < last {
			t.Fatalf("progress went backwards: %.1f after %.1f (%s)", ev.Percent, last, ev.Message)
		}
		last = ev.Percent
	}
	if last != 100 {
		t.Errorf("expected final progress 100, got %.1f", last)
	}
}

func TestRealTimeJobMatchesNarration(t *testing.T) {
	e := newEnv(t)
	e.cfg.FPS = 24
	e.cfg.SpeedRatio = 0.05
	e.prober = fakeProber{durations: map[string]float64{"voice.wav": 12.3}}
	fake := &surfacetest.Fake{}

	job := e.job(t, source.ClassContinuous)
	job.NarrationFile = "/audio/voice.wav"

	res, err := e.pipeline(fake).Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Strategy != capture.RealTimeSampled.String() {
		t.Errorf("expected realtime strategy, got %s", res.Strategy)
	}
	if fake.Probed {
		t.Error("continuous document should not be probed for a timeline")
	}
	if got := e.composer.req.Frames.Len(); got != 295 {
		t.Errorf("expected 295 frames, got %d", got)
	}
	if e.composer.req.Audio.Path != "/audio/voice.wav" {
		t.Errorf("expected narration as soundtrack, got %+v", e.composer.req.Audio)
	}
	e.assertClean(t)
}

func TestSceneNarrationPadsFrames(t *testing.T) {
	e := newEnv(t)
	audioDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(audioDir, "topic_0.wav"), []byte("RIFF"), 0644); err != nil {
		t.Fatal(err)
	}
	e.prober = fakeProber{durations: map[string]float64{"topic_0.wav": 2.0}}
	fake := &surfacetest.Fake{TimelineMs: 1000}

	job := e.job(t, source.ClassScriptedTimeline)
	job.Topic = "topic"
	job.AudioDir = audioDir
	job.Scenes = []audio.Scene{{Text: "first"}, {Text: "0123456789"}}

	res, err := e.pipeline(fake).Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(e.mixer.segments) != 2 || !e.mixer.segments[1].Silent() || e.mixer.segments[1].Seconds != 4.0 {
		t.Fatalf("unexpected narration segments: %+v", e.mixer.segments)
	}
	// 6с звука против 1с анимации
	if res.Reconcile != timing.ActionPad || e.composer.req.Frames.Len() != 180 {
		t.Errorf("expected padding to 180 frames, got %d (%s)", e.composer.req.Frames.Len(), res.Reconcile)
	}
	if e.mixer.target != 6.0 {
		t.Errorf("expected mix target 6.0s, got %.3f", e.mixer.target)
	}
}

func TestMusicOnlySetsDuration(t *testing.T) {
	e := newEnv(t)
	music := filepath.Join(t.TempDir(), "bed.mp3")
	if err := os.WriteFile(music, []byte("ID3"), 0644); err != nil {
		t.Fatal(err)
	}
	e.prober = fakeProber{durations: map[string]float64{"bed.mp3": 8.0}}
	fake := &surfacetest.Fake{TimelineMs: 5000}

	job := e.job(t, source.ClassScriptedTimeline)
	job.BackgroundMusic = music

	res, err := e.pipeline(fake).Run(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Frames != 240 {
		t.Errorf("expected 240 frames for 8s of music, got %d", res.Frames)
	}
	if e.composer.req.Audio.Kind != audio.KindComposite {
		t.Errorf("expected mixed track, got %s", e.composer.req.Audio.Kind)
	}
}

func TestCancelMidCapture(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := &surfacetest.Fake{
		TimelineMs: 5000,
		OnScreenshot: func(n int) {
			if n == 50 {
				cancel()
			}
		},
	}

	res, err := e.pipeline(fake).Run(ctx, e.job(t, source.ClassScriptedTimeline), nil)
	if err != nil {
		t.Fatalf("cancellation must not be an error, got %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}
	if res.Captured != 49 {
		t.Errorf("expected 49 frames before cancel, got %d", res.Captured)
	}
	if e.composer.calls != 0 {
		t.Error("composer must not run after cancellation")
	}
	if _, err := os.Stat(filepath.Join(e.outDir, "out.mp4")); !os.IsNotExist(err) {
		t.Error("output file must not exist")
	}
	if !fake.Closed {
		t.Error("surface was not closed")
	}
	e.assertClean(t)
}

func TestLoadFailure(t *testing.T) {
	e := newEnv(t)
	fake := &surfacetest.Fake{LoadErr: fmt.Errorf("%w: timeout", surface.ErrLoad)}

	res, err := e.pipeline(fake).Run(context.Background(), e.job(t, source.ClassScriptedTimeline), nil)
	var serr *StageError
	if !errors.As(err, &serr) || serr.Stage != StageLoad {
		t.Fatalf("expected load stage error, got %v", err)
	}
	if !errors.Is(err, surface.ErrLoad) {
		t.Error("expected ErrLoad in chain")
	}
	if res.Status != StatusFailed || !strings.HasPrefix(res.Error, "load:") {
		t.Errorf("unexpected result: %+v", res)
	}
	if !fake.Closed {
		t.Error("surface was not closed")
	}
	e.assertClean(t)
}

func TestEncodingFailure(t *testing.T) {
	e := newEnv(t)
	e.composer.err = &video.EncodeError{Err: errors.New("exit status 1"), Diagnostic: "Unknown encoder"}
	fake := &surfacetest.Fake{TimelineMs: 500}

	_, err := e.pipeline(fake).Run(context.Background(), e.job(t, source.ClassScriptedTimeline), nil)
	if !errors.Is(err, video.ErrEncoding) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Unknown encoder") {
		t.Errorf("diagnostic lost: %v", err)
	}
	e.assertClean(t)
}

func TestHandleWait(t *testing.T) {
	e := newEnv(t)
	h := Start(context.Background(), e.pipeline(&surfacetest.Fake{TimelineMs: 1000}), e.job(t, source.ClassScriptedTimeline))

	var n int
	for range h.Events() {
		n++
	}
	res, err := h.Wait(context.Background())
	if err != nil || res.Status != StatusSucceeded {
		t.Fatalf("unexpected outcome: %s %v", res.Status, err)
	}
	if n == 0 {
		t.Error("expected progress events")
	}
	snap := h.Status()
	if snap.Status != StatusSucceeded || snap.Result == nil || snap.Percent != 100 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestManagerCancel(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{})
	unblock := make(chan struct{})
	fake := &surfacetest.Fake{
		TimelineMs: 5000,
		OnScreenshot: func(n int) {
			if n == 1 {
				close(started)
				<-unblock
			}
		},
	}
	m := NewManager(e.pipeline(fake), 1)
	h := m.Submit(e.job(t, source.ClassScriptedTimeline))

	<-started
	if !m.Cancel(h.ID) {
		t.Fatal("job not found")
	}
	close(unblock)

	res, err := h.Wait(context.Background())
	if err != nil || res.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s %v", res.Status, err)
	}
	if m.Cancel("missing") {
		t.Error("unknown job reported as cancelled")
	}
	if got := m.List(); len(got) != 1 || got[0].Status != StatusCancelled {
		t.Errorf("unexpected list: %+v", got)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.assertClean(t)
}

func TestManagerDropsFinishedJobs(t *testing.T) {
	e := newEnv(t)
	m := NewManager(e.pipeline(&surfacetest.Fake{TimelineMs: 1000}, &surfacetest.Fake{TimelineMs: 1000}), 1)
	defer m.Shutdown(context.Background())

	first := e.job(t, source.ClassScriptedTimeline)
	h := m.Submit(first)
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := m.List(); len(got) != 1 {
		t.Fatalf("finished job should be kept within retention, got %d", len(got))
	}

	m.now = func() time.Time { return time.Now().Add(DefaultRetention + time.Minute) }
	if got := m.List(); len(got) != 0 {
		t.Errorf("expected expired job to be dropped, got %+v", got)
	}
	if _, ok := m.Get(first.ID); ok {
		t.Error("expired job still reachable")
	}

	// Running jobs are never pruned.
	second := e.job(t, source.ClassScriptedTimeline)
	second.ID = "job-2"
	second.Output = filepath.Join(e.outDir, "second.mp4")
	m.SetRetention(0)
	h2 := m.Submit(second)
	if _, ok := m.Get(second.ID); !ok {
		t.Error("submitted job missing")
	}
	if _, err := h2.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRunBatch(t *testing.T) {
	e := newEnv(t)
	fakes := []surface.Surface{
		&surfacetest.Fake{TimelineMs: 1000},
		&surfacetest.Fake{LoadErr: surface.ErrLoad},
		&surfacetest.Fake{TimelineMs: 1000},
	}
	var jobs []Job
	for i := range fakes {
		j := e.job(t, source.ClassScriptedTimeline)
		j.ID = fmt.Sprintf("job-%d", i)
		j.Output = filepath.Join(e.outDir, j.ID+".mp4")
		jobs = append(jobs, j)
	}

	results, err := RunBatch(context.Background(), e.pipeline(fakes...), jobs, 1, nil)
	if err == nil || !strings.Contains(err.Error(), "job-1") {
		t.Fatalf("expected job-1 failure, got %v", err)
	}
	want := []Status{StatusSucceeded, StatusFailed, StatusSucceeded}
	for i, res := range results {
		if res.Status != want[i] {
			t.Errorf("job %d: expected %s, got %s", i, want[i], res.Status)
		}
	}
	e.assertClean(t)
}

func TestNewJob(t *testing.T) {
	e := newEnv(t)
	e.cfg.BackgroundMusic = "/music/default.mp3"
	m := &manifest.Manifest{
		Topic:    "intro",
		Document: e.doc,
		Class:    "continuous",
		Output:   filepath.Join(e.outDir, "intro.mp4"),
		Scenes:   []manifest.Scene{{Title: "Hi", Narration: "hello"}},
	}
	job, err := NewJob(m, e.cfg)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	if job.ID == "" || job.Document.Class != source.ClassContinuous {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.BackgroundMusic != "/music/default.mp3" {
		t.Errorf("config music not applied: %s", job.BackgroundMusic)
	}
	if len(job.Scenes) != 1 || job.Scenes[0].Text != "hello" {
		t.Errorf("scenes not copied: %+v", job.Scenes)
	}
}

func TestWriteReport(t *testing.T) {
	e := newEnv(t)
	e.cfg.ShowStats = true
	var out strings.Builder
	p := e.pipeline(&surfacetest.Fake{TimelineMs: 1000})
	p.Report = &out

	if _, err := p.Run(context.Background(), e.job(t, source.ClassScriptedTimeline), nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "PERFORMANCE REPORT") {
		t.Errorf("report not rendered:\n%s", out.String())
	}
	data, err := os.ReadFile(filepath.Join(e.outDir, BenchmarkLog))
	if err != nil {
		t.Fatalf("benchmark log missing: %v", err)
	}
	if !strings.Contains(string(data), "Strategy: deterministic") {
		t.Errorf("unexpected log entry: %s", data)
	}
}
