package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.FrameTolerance != 5 {
		t.Errorf("expected default tolerance 5, got %d", cfg.FrameTolerance)
	}
	if cfg.SpeedRatio != 0.05 {
		t.Errorf("expected default speed ratio 0.05, got %g", cfg.SpeedRatio)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "html2video.yaml")
	data := `
fps: 24
width: 1280
height: 720
frame_tolerance: 3
watermark:
  enabled: true
  type: text
  content: "demo"
  position: bottom-left
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FPS != 24 || cfg.Width != 1280 || cfg.Height != 720 {
		t.Errorf("unexpected video settings: %+v", cfg)
	}
	if cfg.FrameTolerance != 3 {
		t.Errorf("expected tolerance 3, got %d", cfg.FrameTolerance)
	}
	if cfg.Watermark.Position != "bottom_left" {
		t.Errorf("expected normalized position bottom_left, got %q", cfg.Watermark.Position)
	}
	// untouched fields keep defaults
	if cfg.GuardFrames != 120 {
		t.Errorf("expected default guard frames, got %d", cfg.GuardFrames)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "html2video.toml")
	data := `
fps = 60
speed_ratio = 0.1

[watermark]
type = "qr"
content = "https://example.com"
position = "center"
opacity = 0.5
size = 0.2
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FPS != 60 || cfg.SpeedRatio != 0.1 {
		t.Errorf("unexpected values: fps=%d speed=%g", cfg.FPS, cfg.SpeedRatio)
	}
	if cfg.Watermark.Type != "qr" {
		t.Errorf("expected qr watermark, got %q", cfg.Watermark.Type)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	if err := os.WriteFile(path, []byte("fps=1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for .ini config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero fps", func(c *Config) { c.FPS = 0 }, "fps"},
		{"odd width", func(c *Config) { c.Width = 1921 }, "resolution"},
		{"speed ratio", func(c *Config) { c.SpeedRatio = 1.5 }, "speed_ratio"},
		{"opacity", func(c *Config) { c.Watermark.Opacity = 2 }, "opacity"},
		{"size", func(c *Config) { c.Watermark.Size = 0 }, "size"},
		{"position", func(c *Config) { c.Watermark.Position = "somewhere" }, "position"},
		{"kind", func(c *Config) { c.Watermark.Type = "video" }, "type"},
		{"tolerance", func(c *Config) { c.FrameTolerance = -1 }, "frame_tolerance"},
		{"retention", func(c *Config) { c.Server.JobRetentionMinutes = -1 }, "job_retention_minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyResolution(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantErr       bool
	}{
		{"720p", 1280, 720, false},
		{"1080p", 1920, 1080, false},
		{"4K", 3840, 2160, false},
		{"9:16", 720, 1280, false},
		{"4:5", 1080, 1350, false},
		{"8k", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyResolution(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Width != tt.width || cfg.Height != tt.height {
				t.Errorf("got %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.width, tt.height)
			}
		})
	}
}
