package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/html2video/internal/config"
	"github.com/ivlev/html2video/internal/engine"
	"github.com/ivlev/html2video/internal/manifest"
	"github.com/ivlev/html2video/internal/system"
)

// Папки по умолчанию, как в исходном проекте
const (
	inputDir  = "input/html"
	outputDir = "output"
)

type renderFlags struct {
	manifestPath string
	output       string
	class        string
	narration    string
	audioDir     string
	topic        string
	music        string
	resolution   string
	fps          int
	quality      int
	encoder      string
	speed        float64
	stats        bool

	wmText     string
	wmImage    string
	wmQR       string
	wmPosition string
	wmOpacity  float64
	wmSize     float64
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var f renderFlags

	cmd := &cobra.Command{
		Use:   "render [document.html]",
		Short: "Render one animation document to video",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.cfg
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}

			m, err := f.buildManifest(args)
			if err != nil {
				return err
			}
			job, err := engine.NewJob(m, cfg)
			if err != nil {
				return err
			}

			p, err := ctx.pipeline(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println("--- [HTML2VIDEO] ---")
			fmt.Printf("[*] Документ: %s | Тип: %s\n", job.Document.Name(), job.Document.Class)
			fmt.Printf("[*] Разрешение: %dx%d @ %d FPS | Энкодер: %s\n", cfg.Width, cfg.Height, cfg.FPS, p.Encoder)
			fmt.Println("--------------------")

			progress, done := newProgress(os.Stderr)
			res, err := p.Run(cmd.Context(), job, progress)
			done()
			if err != nil {
				return err
			}
			if res.Status == engine.StatusCancelled {
				fmt.Println("[!] Рендеринг отменен")
				return nil
			}
			fmt.Printf("[+++] Готово: %s (%d кадров, %.2fs, стратегия %s, за %s)\n",
				res.Output, res.Frames, res.Seconds, res.Strategy,
				(time.Duration(res.ElapsedSeconds * float64(time.Second))).Round(time.Second))
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.manifestPath, "manifest", "m", "", "YAML-манифест задания")
	fl.StringVarP(&f.output, "output", "o", "", "Путь к видео (если пусто, генерируется автоматически в output/)")
	fl.StringVar(&f.class, "class", "", "Тип документа: scripted, continuous")
	fl.StringVar(&f.narration, "narration", "", "Готовый файл озвучки вместо поиска по сценам")
	fl.StringVar(&f.audioDir, "audio-dir", "", "Папка с озвучкой сцен {topic}_{i}.wav|mp3")
	fl.StringVar(&f.topic, "topic", "", "Тема (префикс файлов озвучки)")
	fl.StringVar(&f.music, "music", "", "Фоновая музыка")
	fl.StringVar(&f.resolution, "resolution", "", "Пресет: 720p, 1080p, 4k, 16:9, 9:16, 4:5")
	fl.IntVar(&f.fps, "fps", 0, "FPS")
	fl.IntVar(&f.quality, "quality", 0, "Качество (0 - по умолчанию для энкодера; x264: CRF, NVENC: CQ, VideoToolbox: q:v)")
	fl.StringVar(&f.encoder, "encoder", "", "Энкодер: libx264, h264_nvenc, h264_videotoolbox (пусто - авто)")
	fl.Float64Var(&f.speed, "speed", 0, "Замедление анимации при захвате в реальном времени (0..1)")
	fl.BoolVar(&f.stats, "stats", false, "Показать отчет о производительности")
	fl.StringVar(&f.wmText, "watermark-text", "", "Текстовый водяной знак")
	fl.StringVar(&f.wmImage, "watermark-image", "", "Водяной знак из файла (png, jpg, webp, pdf)")
	fl.StringVar(&f.wmQR, "watermark-qr", "", "Водяной знак - QR-код с этим содержимым")
	fl.StringVar(&f.wmPosition, "watermark-position", "", "Позиция: "+strings.Join(config.Positions, ", "))
	fl.Float64Var(&f.wmOpacity, "watermark-opacity", 0, "Прозрачность водяного знака (0..1)")
	fl.Float64Var(&f.wmSize, "watermark-size", 0, "Размер водяного знака (доля высоты кадра)")

	return cmd
}

// apply copies explicitly set flags over the loaded config.
func (f *renderFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if err := cfg.ApplyResolution(f.resolution); err != nil {
		return err
	}
	changed := cmd.Flags().Changed
	if changed("fps") {
		cfg.FPS = f.fps
	}
	if changed("quality") {
		cfg.Quality = f.quality
	}
	if f.encoder != "" {
		cfg.VideoEncoder = f.encoder
	}
	if changed("speed") {
		cfg.SpeedRatio = f.speed
	}
	if f.stats {
		cfg.ShowStats = true
	}

	wm := &cfg.Watermark
	switch {
	case f.wmText != "":
		wm.Enabled, wm.Type, wm.Content = true, "text", f.wmText
	case f.wmImage != "":
		wm.Enabled, wm.Type, wm.Content = true, "image", f.wmImage
	case f.wmQR != "":
		wm.Enabled, wm.Type, wm.Content = true, "qr", f.wmQR
	}
	if f.wmPosition != "" {
		wm.Position = f.wmPosition
	}
	if changed("watermark-opacity") {
		wm.Opacity = f.wmOpacity
	}
	if changed("watermark-size") {
		wm.Size = f.wmSize
	}

	cfg.Normalize()
	return cfg.Validate()
}

// manifest loads --manifest or builds one from the document argument, falling
// back to the newest document in input/html.
func (f *renderFlags) buildManifest(args []string) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	if f.manifestPath != "" {
		var err error
		if m, err = manifest.Read(f.manifestPath); err != nil {
			return nil, err
		}
	} else {
		doc := ""
		if len(args) > 0 {
			doc = args[0]
		} else {
			latest, err := system.FindLatest(inputDir, ".html", ".htm")
			if err != nil {
				return nil, fmt.Errorf("%v. Положите HTML в %s/", err, inputDir)
			}
			doc = latest
			fmt.Printf("[*] Выбран файл: %s\n", doc)
		}
		m = manifest.FromDocument(doc, "")
		m.Output = defaultOutput(doc)
	}

	if f.output != "" {
		m.Output = f.output
	}
	if f.class != "" {
		m.Class = f.class
	}
	if f.narration != "" {
		m.Narration = f.narration
	}
	if f.audioDir != "" {
		m.AudioDir = f.audioDir
	}
	if f.topic != "" {
		m.Topic = f.topic
	}
	if f.music != "" {
		m.BackgroundMusic = f.music
	}
	return m, m.Validate()
}

func defaultOutput(doc string) string {
	base := strings.TrimSuffix(filepath.Base(doc), filepath.Ext(doc))
	clean := strings.ReplaceAll(base, " ", "_")
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(outputDir, fmt.Sprintf("%s_%s.mp4", clean, timestamp))
}
