package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Watermark describes the overlay burned into every captured frame.
type Watermark struct {
	Enabled  bool    `yaml:"enabled" toml:"enabled" json:"enabled"`
	Type     string  `yaml:"type" toml:"type" json:"type"` // text, image, qr
	Content  string  `yaml:"content" toml:"content" json:"content"`
	Position string  `yaml:"position" toml:"position" json:"position"`
	Opacity  float64 `yaml:"opacity" toml:"opacity" json:"opacity"`
	Size     float64 `yaml:"size" toml:"size" json:"size"` // fraction of the viewport height
}

// Logging controls log output.
type Logging struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text, json
	File   string `yaml:"file" toml:"file"`
}

// Binaries names the external programs the pipeline drives.
type Binaries struct {
	FFmpeg  string `yaml:"ffmpeg" toml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe" toml:"ffprobe"`
	Chrome  string `yaml:"chrome" toml:"chrome"`
}

// Server configures the HTTP job API.
type Server struct {
	Bind                string `yaml:"bind" toml:"bind"`
	MaxParallel         int    `yaml:"max_parallel" toml:"max_parallel"`
	JobRetentionMinutes int    `yaml:"job_retention_minutes" toml:"job_retention_minutes"` // finished jobs stay pollable this long
}

type Config struct {
	Width        int    `yaml:"width" toml:"width"`
	Height       int    `yaml:"height" toml:"height"`
	FPS          int    `yaml:"fps" toml:"fps"`
	Quality      int    `yaml:"quality" toml:"quality"`             // 0 = per-encoder default
	VideoEncoder string `yaml:"video_encoder" toml:"video_encoder"` // empty = auto
	EncoderSpeed string `yaml:"encoder_preset" toml:"encoder_preset"`
	AudioBitrate string `yaml:"audio_bitrate" toml:"audio_bitrate"`

	SpeedRatio       float64  `yaml:"speed_ratio" toml:"speed_ratio"`
	GuardFrames      int      `yaml:"guard_frames" toml:"guard_frames"`
	FrameTolerance   int      `yaml:"frame_tolerance" toml:"frame_tolerance"`
	FallbackDuration float64  `yaml:"fallback_duration" toml:"fallback_duration"`
	ChartCategories  []string `yaml:"chart_categories" toml:"chart_categories"`

	LoadTimeoutSeconds int     `yaml:"load_timeout" toml:"load_timeout"`
	SettleDelayMs      int     `yaml:"settle_delay_ms" toml:"settle_delay_ms"`
	DeviceScaleFactor  float64 `yaml:"device_scale_factor" toml:"device_scale_factor"`
	ChromeSandbox      bool    `yaml:"chrome_sandbox" toml:"chrome_sandbox"` // false = --no-sandbox for containers

	BackgroundMusic  string  `yaml:"background_music" toml:"background_music"`
	BackgroundVolume float64 `yaml:"background_volume" toml:"background_volume"`

	Watermark Watermark `yaml:"watermark" toml:"watermark"`
	Fonts     []string  `yaml:"fonts" toml:"fonts"`

	TempRoot  string `yaml:"temp_root" toml:"temp_root"`
	ShowStats bool   `yaml:"show_stats" toml:"show_stats"`

	Binaries Binaries `yaml:"binaries" toml:"binaries"`
	Logging  Logging  `yaml:"logging" toml:"logging"`
	Server   Server   `yaml:"server" toml:"server"`

	BuildVersion string `yaml:"-" toml:"-"`
}

// Watermark positions: one of nine anchors.
var Positions = []string{
	"top_left", "top_center", "top_right",
	"middle_left", "center", "middle_right",
	"bottom_left", "bottom_center", "bottom_right",
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Width:              1920,
		Height:             1080,
		FPS:                30,
		EncoderSpeed:       "slow",
		AudioBitrate:       "192k",
		SpeedRatio:         0.05,
		GuardFrames:        120,
		FrameTolerance:     5,
		FallbackDuration:   30,
		ChartCategories:    []string{"bar_race", "mind_map", "geo_map"},
		LoadTimeoutSeconds: 60,
		SettleDelayMs:      1000,
		DeviceScaleFactor:  2,
		BackgroundVolume:   0.3,
		Watermark: Watermark{
			Type:     "text",
			Position: "top_right",
			Opacity:  0.8,
			Size:     0.15,
		},
		Binaries: Binaries{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Server: Server{
			Bind:                "127.0.0.1:8089",
			MaxParallel:         2,
			JobRetentionMinutes: 60,
		},
	}
}

// Load reads a YAML or TOML file on top of Default. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return nil, fmt.Errorf("config %s: unsupported extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyResolution sets Width/Height from a named preset.
func (c *Config) ApplyResolution(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return nil
	case "720p", "16:9":
		c.Width, c.Height = 1280, 720
	case "1080p":
		c.Width, c.Height = 1920, 1080
	case "4k":
		c.Width, c.Height = 3840, 2160
	case "9:16":
		c.Width, c.Height = 720, 1280
	case "4:5":
		c.Width, c.Height = 1080, 1350
	default:
		return fmt.Errorf("unknown resolution preset %q", name)
	}
	return nil
}

// Normalize canonicalizes free-form fields such as watermark anchors.
func (c *Config) Normalize() {
	c.Watermark.Type = strings.ToLower(strings.TrimSpace(c.Watermark.Type))
	c.Watermark.Position = strings.ToLower(strings.TrimSpace(c.Watermark.Position))
	c.Watermark.Position = strings.ReplaceAll(c.Watermark.Position, "-", "_")
	if c.Binaries.FFmpeg == "" {
		c.Binaries.FFmpeg = "ffmpeg"
	}
	if c.Binaries.FFprobe == "" {
		c.Binaries.FFprobe = "ffprobe"
	}
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var errs []error
	if c.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %d", c.FPS))
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("resolution %dx%d must be positive and even", c.Width, c.Height))
	}
	if c.SpeedRatio <= 0 || c.SpeedRatio > 1 {
		errs = append(errs, fmt.Errorf("speed_ratio must be in (0,1], got %g", c.SpeedRatio))
	}
	if c.Quality < 0 {
		errs = append(errs, fmt.Errorf("quality must not be negative"))
	}
	if c.FrameTolerance < 0 {
		errs = append(errs, fmt.Errorf("frame_tolerance must not be negative"))
	}
	if c.GuardFrames < 0 {
		errs = append(errs, fmt.Errorf("guard_frames must not be negative"))
	}
	if c.BackgroundVolume < 0 {
		errs = append(errs, fmt.Errorf("background_volume must not be negative"))
	}
	if c.LoadTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("load_timeout must be positive"))
	}
	if c.Server.JobRetentionMinutes < 0 {
		errs = append(errs, fmt.Errorf("server job_retention_minutes must not be negative"))
	}
	if c.DeviceScaleFactor <= 0 {
		errs = append(errs, fmt.Errorf("device_scale_factor must be positive"))
	}

	wm := c.Watermark
	if wm.Opacity < 0 || wm.Opacity > 1 {
		errs = append(errs, fmt.Errorf("watermark opacity must be in [0,1], got %g", wm.Opacity))
	}
	if wm.Size <= 0 || wm.Size > 1 {
		errs = append(errs, fmt.Errorf("watermark size must be in (0,1], got %g", wm.Size))
	}
	switch wm.Type {
	case "text", "image", "qr":
	default:
		errs = append(errs, fmt.Errorf("watermark type %q is not one of text, image, qr", wm.Type))
	}
	if !validPosition(wm.Position) {
		errs = append(errs, fmt.Errorf("watermark position %q is not a known anchor", wm.Position))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validPosition(p string) bool {
	for _, known := range Positions {
		if p == known {
			return true
		}
	}
	return false
}
