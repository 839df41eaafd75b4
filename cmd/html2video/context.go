package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ivlev/html2video/internal/audio"
	"github.com/ivlev/html2video/internal/config"
	"github.com/ivlev/html2video/internal/deps"
	"github.com/ivlev/html2video/internal/engine"
	"github.com/ivlev/html2video/internal/logging"
	"github.com/ivlev/html2video/internal/surface"
	"github.com/ivlev/html2video/internal/system"
	"github.com/ivlev/html2video/internal/video"
)

// staleAge is how old an abandoned job temp directory must be before startup removes it.
const staleAge = 24 * time.Hour

// Environment overrides for binary locations.
const (
	envChrome  = "HTML2VIDEO_CHROME"
	envFFmpeg  = "HTML2VIDEO_FFMPEG"
	envFFprobe = "HTML2VIDEO_FFPROBE"
)

type commandContext struct {
	configFlag *string
	envFlag    *string
	levelFlag  *string

	cfg    *config.Config
	logger *logrus.Logger
}

func newCommandContext(configFlag, envFlag, levelFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, envFlag: envFlag, levelFlag: levelFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}

	if path := strings.TrimSpace(*c.envFlag); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if lvl := strings.TrimSpace(*c.levelFlag); lvl != "" {
		cfg.Logging.Level = lvl
	}
	cfg.BuildVersion = version

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	c.cfg, c.logger = cfg, logger
	return cfg, nil
}

func applyEnv(cfg *config.Config) {
	if v := os.Getenv(envChrome); v != "" {
		cfg.Binaries.Chrome = v
	}
	if v := os.Getenv(envFFmpeg); v != "" {
		cfg.Binaries.FFmpeg = v
	}
	if v := os.Getenv(envFFprobe); v != "" {
		cfg.Binaries.FFprobe = v
	}
}

func (c *commandContext) log() *logrus.Entry {
	return logrus.NewEntry(c.logger)
}

// pipeline checks external binaries, picks the encoder and wires the production pipeline.
func (c *commandContext) pipeline(ctx context.Context) (*engine.Pipeline, error) {
	cfg := c.cfg
	log := c.log()

	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits(log)

	if res := system.CleanStale(cfg.TempRoot, staleAge, log); len(res.Removed) > 0 {
		fmt.Printf("[*] Удалено старых временных папок: %d\n", len(res.Removed))
	}

	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	if missing := deps.Missing(statuses); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = m.Name
		}
		return nil, fmt.Errorf("не найдены программы: %s (см. html2video deps)", strings.Join(names, ", "))
	}

	encoder := cfg.VideoEncoder
	if encoder == "" {
		encoder = system.GetBestH264Encoder(ctx, cfg.Binaries.FFmpeg)
		if encoder != "libx264" {
			fmt.Printf("[*] Обнаружено аппаратное ускорение: %s\n", encoder)
		}
	}

	return &engine.Pipeline{
		Config: cfg,
		Surfaces: surface.ChromeFactory(surface.ChromeOptions{
			ExecPath:    deps.ChromePath(statuses),
			Width:       cfg.Width,
			Height:      cfg.Height,
			Scale:       cfg.DeviceScaleFactor,
			LoadTimeout: time.Duration(cfg.LoadTimeoutSeconds) * time.Second,
			SettleDelay: time.Duration(cfg.SettleDelayMs) * time.Millisecond,
			Sandbox:     cfg.ChromeSandbox,
			Log:         log,
		}),
		Mixer:    &audio.FFmpegMixer{Binary: cfg.Binaries.FFmpeg, Log: log},
		Prober:   audio.FFprobe{Binary: cfg.Binaries.FFprobe, Timeout: 30 * time.Second},
		Composer: &video.FFmpegComposer{Binary: cfg.Binaries.FFmpeg, Log: log},
		Encoder:  encoder,
		Log:      log,
		Report:   os.Stdout,
	}, nil
}
