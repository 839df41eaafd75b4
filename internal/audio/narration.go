package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Clip extensions in order of preference.
var clipExtensions = []string{".wav", ".mp3"}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Segment is one scene of the narration track.
type Segment struct {
	Scene   int
	Path    string // empty for silence
	Seconds float64
}

func (s Segment) Silent() bool { return s.Path == "" }

// Scene is the narration input of one scene.
type Scene struct {
	Text string
}

// ClipPath returns {dir}/{topic}_{scene}.wav or .mp3, whichever exists and is non-empty.
func ClipPath(dir, topic string, scene int) (string, bool) {
	for _, ext := range clipExtensions {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d%s", topic, scene, ext))
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() && fi.Size() > 0 {
			return path, true
		}
	}
	return "", false
}

// EstimateSeconds is the reading time assumed for a scene without speech:
// max(3.0, chars*0.3 + 1.0) over the text with markup stripped.
func EstimateSeconds(text string) float64 {
	n := utf8.RuneCountInString(tagPattern.ReplaceAllString(text, ""))
	// (3n+10)/10 точно равно n*0.3+1.0 без ошибки округления
	return math.Max(3.0, float64(3*n+10)/10)
}

// PlanNarration resolves every scene to a clip or a silent gap. Missing or unreadable
// clips never fail the plan.
func PlanNarration(ctx context.Context, p Prober, dir, topic string, scenes []Scene, log *logrus.Entry) ([]Segment, error) {
	segments := make([]Segment, len(scenes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, sc := range scenes {
		g.Go(func() error {
			seg := Segment{Scene: i}
			if path, ok := ClipPath(dir, topic, i); ok {
				d, err := p.Duration(gctx, path)
				if err == nil && d > 0 {
					seg.Path, seg.Seconds = path, d
					segments[i] = seg
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.WithError(err).WithField("path", path).Warn("narration clip unreadable, using silence")
			}
			seg.Seconds = EstimateSeconds(sc.Text)
			log.WithFields(logrus.Fields{"scene": i, "seconds": seg.Seconds}).Info("narration missing, estimated silence")
			segments[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return segments, nil
}

// TotalSeconds sums segment durations.
func TotalSeconds(segments []Segment) float64 {
	var total float64
	for _, s := range segments {
		total += s.Seconds
	}
	return total
}
