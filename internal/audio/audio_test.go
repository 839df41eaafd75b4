package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ivlev/html2video/internal/logging"
)

type fakeProber struct {
	mu        sync.Mutex
	durations map[string]float64
	calls     []string
}

func (p *fakeProber) Duration(_ context.Context, path string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, filepath.Base(path))
	d, ok := p.durations[filepath.Base(path)]
	if !ok {
		return 0, errors.New("invalid data found when processing input")
	}
	return d, nil
}

func touch(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEstimateSeconds(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"", 3.0},
		{"short", 3.0},
		{"0123456789", 4.0},
		{"<b>0123456789</b>", 4.0},
		{"光合作用是植物利用光能的过程", 5.2},
	}
	for _, tt := range tests {
		if got := EstimateSeconds(tt.text); got != tt.want {
			t.Errorf("EstimateSeconds(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestClipPathPrefersWav(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "topic_0.mp3"), 10)
	touch(t, filepath.Join(dir, "topic_0.wav"), 10)
	touch(t, filepath.Join(dir, "topic_1.wav"), 0)
	touch(t, filepath.Join(dir, "topic_1.mp3"), 10)

	if p, ok := ClipPath(dir, "topic", 0); !ok || filepath.Ext(p) != ".wav" {
		t.Errorf("scene 0: expected wav, got %q", p)
	}
	if p, ok := ClipPath(dir, "topic", 1); !ok || filepath.Ext(p) != ".mp3" {
		t.Errorf("scene 1: empty wav must be skipped, got %q", p)
	}
	if _, ok := ClipPath(dir, "topic", 2); ok {
		t.Error("scene 2 should be missing")
	}
}

func TestPlanNarrationScenarioC(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "cells_0.wav"), 100)
	touch(t, filepath.Join(dir, "cells_2.mp3"), 100)
	prober := &fakeProber{durations: map[string]float64{"cells_0.wav": 2.5, "cells_2.mp3": 3.25}}

	scenes := []Scene{{Text: "intro"}, {Text: "<p>0123456789</p>"}, {Text: "outro"}}
	segs, err := PlanNarration(context.Background(), prober, dir, "cells", scenes, logging.Discard())
	if err != nil {
		t.Fatalf("PlanNarration failed: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	if segs[0].Silent() || segs[0].Seconds != 2.5 {
		t.Errorf("segment 0 = %+v", segs[0])
	}
	if !segs[1].Silent() || segs[1].Seconds != 4.0 {
		t.Errorf("segment 1 should be a 4.0s gap, got %+v", segs[1])
	}
	if segs[2].Silent() || segs[2].Seconds != 3.25 {
		t.Errorf("segment 2 = %+v", segs[2])
	}
	if TotalSeconds(segs) != 9.75 {
		t.Errorf("total = %v", TotalSeconds(segs))
	}
}

func TestPlanNarrationUnreadableClip(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "x_0.wav"), 10)
	segs, err := PlanNarration(context.Background(), &fakeProber{}, dir, "x", []Scene{{Text: "hello"}}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if !segs[0].Silent() || segs[0].Seconds != 3.0 {
		t.Errorf("unreadable clip should become silence, got %+v", segs[0])
	}
}

func TestPlanMixScenarioD(t *testing.T) {
	music := Track{Path: "bed.mp3", Seconds: 4.0, Kind: KindFile}
	narration := Track{Path: "voice.wav", Seconds: 9.0, Kind: KindComposite}

	plan := PlanMix(narration, music, 9.0)
	if !plan.Music || !plan.Narration || plan.MusicLoops != 3 || plan.Target != 9.0 {
		t.Errorf("unexpected plan %+v", plan)
	}
	if p := PlanMix(Track{}, music, 8.0); p.MusicLoops != 2 {
		t.Errorf("exact multiple should not add a loop: %+v", p)
	}
	if p := PlanMix(narration, Track{}, 9.0); p.Music || p.MusicLoops != 0 {
		t.Errorf("absent music: %+v", p)
	}
	if p := PlanMix(narration, Track{Path: "long.mp3", Seconds: 60}, 9.0); p.MusicLoops != 1 {
		t.Errorf("long music: %+v", p)
	}
}

func TestMixStreamLoopsAndTrims(t *testing.T) {
	music := Track{Path: "bed.mp3", Seconds: 4.0}
	narration := Track{Path: "voice.wav", Seconds: 9.0}
	plan := PlanMix(narration, music, 9.0)

	args := strings.Join(mixStream(plan, narration, music, 0.3, "out.wav").GetArgs(), " ")
	for _, want := range []string{
		"-stream_loop 2 -i bed.mp3",
		"-i voice.wav",
		"atrim",
		"duration=9.000",
		"volume=0.300",
		"amix",
		"out.wav",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("mix args missing %q:\n%s", want, args)
		}
	}
}

func TestConcatStream(t *testing.T) {
	args := strings.Join(concatStream([]string{"a_0.wav", "gap_001.wav", "a_2.mp3"}, "narration.wav").GetArgs(), " ")
	for _, want := range []string{"-i a_0.wav", "-i gap_001.wav", "-i a_2.mp3", "concat", "n=3", "pcm_s16le", "narration.wav"} {
		if !strings.Contains(args, want) {
			t.Errorf("concat args missing %q:\n%s", want, args)
		}
	}
	if strings.Index(args, "a_0.wav") > strings.Index(args, "gap_001.wav") {
		t.Error("inputs out of scene order")
	}
}

func TestSilenceStream(t *testing.T) {
	args := strings.Join(silenceStream(4.0, "gap.wav").GetArgs(), " ")
	for _, want := range []string{"-f lavfi", "anullsrc=r=44100:cl=stereo", "-t 4.000", "gap.wav"} {
		if !strings.Contains(args, want) {
			t.Errorf("silence args missing %q:\n%s", want, args)
		}
	}
}

func TestMixerShortcuts(t *testing.T) {
	m := &FFmpegMixer{Binary: "/nonexistent/ffmpeg", Log: logging.Discard()}
	ctx := context.Background()

	voice := Track{Path: "voice.wav", Seconds: 5, Kind: KindFile}
	got, err := m.Mix(ctx, voice, Track{}, 0.3, 5, "unused.wav")
	if err != nil || got != voice {
		t.Errorf("narration without music should pass through, got %+v %v", got, err)
	}

	got, err = m.Concatenate(ctx, []Segment{{Path: "one.wav", Seconds: 2}}, "unused.wav")
	if err != nil || got.Path != "one.wav" || got.Kind != KindFile {
		t.Errorf("single clip should not be re-encoded, got %+v %v", got, err)
	}

	got, err = m.Concatenate(ctx, nil, "unused.wav")
	if err != nil || !got.Absent() {
		t.Errorf("no scenes should give an absent track, got %+v %v", got, err)
	}

	if _, err := m.Silence(ctx, 2, filepath.Join(t.TempDir(), "s.wav")); err == nil {
		t.Error("expected error from missing ffmpeg binary")
	}
}

func TestTrackAbsent(t *testing.T) {
	if !(Track{Path: "a.wav"}).Absent() {
		t.Error("zero duration track must be absent")
	}
	if (Track{Path: "a.wav", Seconds: 0.1}).Absent() {
		t.Error("non-empty track reported absent")
	}
}
