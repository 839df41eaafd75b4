package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ivlev/html2video/internal/config"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv(envChrome, "/opt/chrome")
	t.Setenv(envFFmpeg, "/opt/ffmpeg")
	cfg := config.Default()
	applyEnv(&cfg)
	if cfg.Binaries.Chrome != "/opt/chrome" || cfg.Binaries.FFmpeg != "/opt/ffmpeg" {
		t.Errorf("env overrides not applied: %+v", cfg.Binaries)
	}
	if cfg.Binaries.FFprobe != "ffprobe" {
		t.Errorf("unset override changed ffprobe: %s", cfg.Binaries.FFprobe)
	}
}

func TestRenderFlagsApply(t *testing.T) {
	cmd := newRenderCommand(newCommandContext(new(string), new(string), new(string)))
	if err := cmd.ParseFlags([]string{"--fps", "24", "--resolution", "720p", "--watermark-text", "demo", "--watermark-position", "bottom-left"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	var f renderFlags
	f.fps, f.resolution, f.wmText, f.wmPosition = 24, "720p", "demo", "bottom-left"
	if err := f.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if cfg.FPS != 24 || cfg.Width != 1280 || cfg.Height != 720 {
		t.Errorf("unexpected video settings: %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}
	if !cfg.Watermark.Enabled || cfg.Watermark.Type != "text" || cfg.Watermark.Position != "bottom_left" {
		t.Errorf("unexpected watermark: %+v", cfg.Watermark)
	}
}

func TestDefaultOutput(t *testing.T) {
	out := defaultOutput("/data/My Chart.html")
	if filepath.Dir(out) != outputDir || !strings.HasPrefix(filepath.Base(out), "My_Chart_") || !strings.HasSuffix(out, ".mp4") {
		t.Errorf("unexpected output path: %s", out)
	}
}
