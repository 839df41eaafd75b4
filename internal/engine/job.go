package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ivlev/html2video/internal/audio"
	"github.com/ivlev/html2video/internal/config"
	"github.com/ivlev/html2video/internal/manifest"
	"github.com/ivlev/html2video/internal/source"
)

// Job is one document rendered to one output file.
type Job struct {
	ID       string
	Document source.Document

	// Per-scene narration clips are looked up as {AudioDir}/{Topic}_{i}.wav|mp3.
	Topic    string
	AudioDir string
	Scenes   []audio.Scene
	// NarrationFile replaces the per-scene lookup when set.
	NarrationFile string

	BackgroundMusic string
	Output          string
}

// NewJob builds a job from a manifest. The manifest's music overrides the config's.
func NewJob(m *manifest.Manifest, cfg *config.Config) (Job, error) {
	if err := m.Validate(); err != nil {
		return Job{}, err
	}
	class, err := source.ParseClass(m.Class)
	if err != nil {
		return Job{}, err
	}
	doc, err := source.Open(m.Document, class, cfg.ChartCategories)
	if err != nil {
		return Job{}, err
	}

	job := Job{
		ID:              uuid.NewString(),
		Document:        doc,
		Topic:           strings.TrimSpace(m.Topic),
		AudioDir:        m.AudioDir,
		NarrationFile:   m.Narration,
		BackgroundMusic: m.BackgroundMusic,
		Output:          m.Output,
	}
	if job.BackgroundMusic == "" {
		job.BackgroundMusic = cfg.BackgroundMusic
	}
	for _, sc := range m.Scenes {
		job.Scenes = append(job.Scenes, audio.Scene{Text: sc.Narration})
	}
	return job, nil
}

func (j Job) String() string {
	return fmt.Sprintf("%s (%s -> %s)", j.ID, j.Document.Name(), j.Output)
}
