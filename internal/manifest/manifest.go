package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest describes one render job: the document, its narration and the destination.
type Manifest struct {
	Topic           string  `yaml:"topic" json:"topic"`
	Document        string  `yaml:"document" json:"document"`
	Class           string  `yaml:"class,omitempty" json:"class,omitempty"` // scripted, continuous
	AudioDir        string  `yaml:"audio_dir,omitempty" json:"audio_dir,omitempty"`
	Narration       string  `yaml:"narration,omitempty" json:"narration,omitempty"`
	BackgroundMusic string  `yaml:"background_music,omitempty" json:"background_music,omitempty"`
	Output          string  `yaml:"output" json:"output"`
	Scenes          []Scene `yaml:"scenes,omitempty" json:"scenes,omitempty"`
}

// Scene is one narrated section of the animation.
type Scene struct {
	Title     string `yaml:"title,omitempty" json:"title,omitempty"`
	Narration string `yaml:"narration,omitempty" json:"narration,omitempty"`
}

// Write writes a manifest to a YAML file
func Write(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Read reads a manifest from a YAML file. Relative paths inside it are
// resolved against the manifest's directory.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	m.Resolve(filepath.Dir(path))
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// Resolve makes relative file references absolute against base.
func (m *Manifest) Resolve(base string) {
	for _, p := range []*string{&m.Document, &m.AudioDir, &m.Narration, &m.BackgroundMusic, &m.Output} {
		*p = strings.TrimSpace(*p)
		if *p == "" || filepath.IsAbs(*p) || isURL(*p) {
			continue
		}
		*p = filepath.Join(base, *p)
	}
}

// Validate reports missing required fields.
func (m *Manifest) Validate() error {
	var errs []error
	if strings.TrimSpace(m.Document) == "" {
		errs = append(errs, errors.New("document is required"))
	}
	if strings.TrimSpace(m.Output) == "" {
		errs = append(errs, errors.New("output is required"))
	}
	if len(m.Scenes) > 0 && m.Narration == "" && strings.TrimSpace(m.Topic) == "" {
		errs = append(errs, errors.New("topic is required to locate per-scene narration"))
	}
	return errors.Join(errs...)
}

// FromDocument builds a minimal manifest for a single document with no narration.
func FromDocument(document, output string) *Manifest {
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(document), filepath.Ext(document))
		output = filepath.Join(filepath.Dir(document), base+".mp4")
	}
	return &Manifest{
		Topic:    strings.TrimSuffix(filepath.Base(document), filepath.Ext(document)),
		Document: document,
		Output:   output,
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "file://")
}
