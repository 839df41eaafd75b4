package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const sampleRate = 44100

// Mixer produces the job soundtrack.
type Mixer interface {
	Concatenate(ctx context.Context, segments []Segment, dst string) (Track, error)
	Mix(ctx context.Context, narration, music Track, volume, target float64, dst string) (Track, error)
	Silence(ctx context.Context, seconds float64, dst string) (Track, error)
}

// MixPlan is what Mix will do for a given input set.
type MixPlan struct {
	Target     float64
	Narration  bool
	Music      bool
	MusicLoops int // copies of the music file concatenated before trimming
}

// PlanMix decides how narration and music combine into target seconds.
func PlanMix(narration, music Track, target float64) MixPlan {
	p := MixPlan{Target: target, Narration: !narration.Absent(), Music: !music.Absent()}
	if p.Music && target > 0 {
		p.MusicLoops = int(math.Ceil(target/music.Seconds - 1e-9))
		if p.MusicLoops < 1 {
			p.MusicLoops = 1
		}
	}
	return p
}

// FFmpegMixer renders audio graphs with ffmpeg through ffmpeg-go.
type FFmpegMixer struct {
	Binary string
	Log    *logrus.Entry
}

func (m *FFmpegMixer) Concatenate(ctx context.Context, segments []Segment, dst string) (Track, error) {
	switch {
	case len(segments) == 0:
		return Track{}, nil
	case len(segments) == 1 && !segments[0].Silent():
		return Track{Path: segments[0].Path, Seconds: segments[0].Seconds, Kind: KindFile}, nil
	}

	// Паузы рендерятся в отдельные файлы: одинаковые входы ffmpeg-go схлопывает в один узел
	inputs := make([]string, len(segments))
	for i, seg := range segments {
		if !seg.Silent() {
			inputs[i] = seg.Path
			continue
		}
		gap := filepath.Join(filepath.Dir(dst), fmt.Sprintf("gap_%03d.wav", seg.Scene))
		if _, err := m.Silence(ctx, seg.Seconds, gap); err != nil {
			return Track{}, err
		}
		inputs[i] = gap
	}

	if err := m.run(ctx, concatStream(inputs, dst)); err != nil {
		return Track{}, errors.Wrap(err, "concatenate narration")
	}
	kind := KindComposite
	if allSilent(segments) {
		kind = KindSilence
	}
	return Track{Path: dst, Seconds: TotalSeconds(segments), Kind: kind}, nil
}

func (m *FFmpegMixer) Mix(ctx context.Context, narration, music Track, volume, target float64, dst string) (Track, error) {
	plan := PlanMix(narration, music, target)
	switch {
	case !plan.Music && plan.Narration:
		return narration, nil
	case !plan.Music:
		return m.Silence(ctx, target, dst)
	}

	m.logger().WithFields(logrus.Fields{
		"target": fmt.Sprintf("%.2fs", target),
		"loops":  plan.MusicLoops,
		"volume": volume,
	}).Info("mixing background music")

	if err := m.run(ctx, mixStream(plan, narration, music, volume, dst)); err != nil {
		return Track{}, errors.Wrap(err, "mix background music")
	}
	return Track{Path: dst, Seconds: target, Kind: KindComposite}, nil
}

func (m *FFmpegMixer) Silence(ctx context.Context, seconds float64, dst string) (Track, error) {
	if seconds <= 0 {
		return Track{}, nil
	}
	if err := m.run(ctx, silenceStream(seconds, dst)); err != nil {
		return Track{}, errors.Wrap(err, "generate silence")
	}
	return Track{Path: dst, Seconds: seconds, Kind: KindSilence}, nil
}

func (m *FFmpegMixer) run(ctx context.Context, stream *ffmpeg.Stream) error {
	binary := m.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	args := append([]string{"-hide_banner", "-loglevel", "error"}, stream.OverWriteOutput().GetArgs()...)
	m.logger().WithField("args", strings.Join(args, " ")).Debug("ffmpeg")

	cmd := exec.CommandContext(ctx, binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Errorf("ffmpeg: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *FFmpegMixer) logger() *logrus.Entry {
	if m.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return m.Log
}

// concatStream joins clips in order into a PCM wav.
func concatStream(inputs []string, dst string) *ffmpeg.Stream {
	streams := make([]*ffmpeg.Stream, len(inputs))
	for i, path := range inputs {
		streams[i] = normalize(ffmpeg.Input(path).Audio())
	}
	return ffmpeg.Concat(streams, ffmpeg.KwArgs{"v": 0, "a": 1}).
		Output(dst, ffmpeg.KwArgs{"c:a": "pcm_s16le"})
}

// mixStream loops music to MusicLoops copies, trims it to the target, scales it
// by volume and sums it with the narration.
func mixStream(plan MixPlan, narration, music Track, volume float64, dst string) *ffmpeg.Stream {
	in := ffmpeg.KwArgs{}
	if plan.MusicLoops > 1 {
		// stream_loop N = N повторов после первого проигрывания
		in["stream_loop"] = plan.MusicLoops - 1
	}
	bed := normalize(ffmpeg.Input(music.Path, in).Audio())
	bed = bed.
		Filter("atrim", ffmpeg.Args{}, ffmpeg.KwArgs{"duration": seconds(plan.Target)}).
		Filter("asetpts", ffmpeg.Args{"PTS-STARTPTS"}).
		Filter("volume", ffmpeg.Args{seconds(volume)})

	out := bed
	if plan.Narration {
		voice := normalize(ffmpeg.Input(narration.Path).Audio())
		// normalize=0: громкость дорожек суммируется, а не делится на число входов
		out = ffmpeg.Filter([]*ffmpeg.Stream{voice, bed}, "amix", ffmpeg.Args{}, ffmpeg.KwArgs{
			"inputs":             2,
			"duration":           "longest",
			"dropout_transition": 0,
			"normalize":          0,
		}).Filter("atrim", ffmpeg.Args{}, ffmpeg.KwArgs{"duration": seconds(plan.Target)})
	}
	return out.Output(dst, ffmpeg.KwArgs{"c:a": "pcm_s16le"})
}

func silenceStream(secs float64, dst string) *ffmpeg.Stream {
	return silenceInput(secs).Output(dst, ffmpeg.KwArgs{"c:a": "pcm_s16le", "t": seconds(secs)})
}

func silenceInput(secs float64) *ffmpeg.Stream {
	return ffmpeg.Input(fmt.Sprintf("anullsrc=r=%d:cl=stereo", sampleRate), ffmpeg.KwArgs{
		"f": "lavfi",
		"t": seconds(secs),
	})
}

func normalize(s *ffmpeg.Stream) *ffmpeg.Stream {
	return s.Filter("aformat", ffmpeg.Args{}, ffmpeg.KwArgs{
		"sample_fmts":     "fltp",
		"sample_rates":    strconv.Itoa(sampleRate),
		"channel_layouts": "stereo",
	})
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func allSilent(segments []Segment) bool {
	for _, s := range segments {
		if !s.Silent() {
			return false
		}
	}
	return true
}
