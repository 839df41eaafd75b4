package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoFrames is returned when sampling finished without a single frame.
var ErrNoFrames = errors.New("no frames captured")

// FrameSequence is the ordered list of captured frame files at a fixed rate.
type FrameSequence struct {
	Paths []string
	FPS   int
}

func (f FrameSequence) Len() int { return len(f.Paths) }

// Seconds is the duration the frames cover at FPS.
func (f FrameSequence) Seconds() float64 {
	if f.FPS <= 0 {
		return 0
	}
	return float64(len(f.Paths)) / float64(f.FPS)
}

// FrameStore writes frames into a job-owned directory. Append-only.
type FrameStore struct {
	dir   string
	paths []string
	bytes int64
}

func NewFrameStore(dir string) (*FrameStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("frame store: %w", err)
	}
	return &FrameStore{dir: dir}, nil
}

func (s *FrameStore) Add(png []byte) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("frame_%05d.png", len(s.paths)))
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("write frame %d: %w", len(s.paths), err)
	}
	s.paths = append(s.paths, path)
	s.bytes += int64(len(png))
	return path, nil
}

func (s *FrameStore) Dir() string { return s.dir }

func (s *FrameStore) Len() int { return len(s.paths) }

// Bytes is the total size written so far.
func (s *FrameStore) Bytes() int64 { return s.bytes }

// Sequence returns a copy of the captured paths tagged with fps.
func (s *FrameStore) Sequence(fps int) FrameSequence {
	paths := make([]string, len(s.paths))
	copy(paths, s.paths)
	return FrameSequence{Paths: paths, FPS: fps}
}
