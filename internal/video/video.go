package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ivlev/html2video/internal/audio"
	"github.com/ivlev/html2video/internal/capture"
)

// ErrEncoding marks a failed or empty encoder run.
var ErrEncoding = errors.New("encoding failed")

// EncodeError carries the encoder diagnostic output.
type EncodeError struct {
	Err        error
	Diagnostic string
}

func (e *EncodeError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("%v: %v", ErrEncoding, e.Err)
	}
	return fmt.Sprintf("%v: %v: %s", ErrEncoding, e.Err, e.Diagnostic)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Is(target error) bool { return target == ErrEncoding }

// EncodingRequest is built once per job and not mutated after Compose starts.
type EncodingRequest struct {
	Frames       capture.FrameSequence
	Audio        audio.Track
	Output       string
	Width        int
	Height       int
	FPS          int
	Quality      int
	Encoder      string // h264_videotoolbox, h264_nvenc, libx264
	Preset       string // libx264 only
	AudioBitrate string
}

func (r EncodingRequest) Validate() error {
	switch {
	case r.Frames.Len() == 0:
		return capture.ErrNoFrames
	case r.Output == "":
		return errors.New("output path is empty")
	case r.FPS <= 0:
		return errors.Errorf("invalid fps %d", r.FPS)
	case r.Width <= 0 || r.Height <= 0:
		return errors.Errorf("invalid size %dx%d", r.Width, r.Height)
	}
	return nil
}

// ProgressFunc receives the encoded fraction in [0,1].
type ProgressFunc func(fraction float64)

// Composer turns frames plus audio into a video file.
type Composer interface {
	Compose(ctx context.Context, req EncodingRequest, progress ProgressFunc) error
}

// FFmpegComposer pipes PNG frames into ffmpeg over stdin.
type FFmpegComposer struct {
	Binary string
	Log    *logrus.Entry
}

// PartialPath is where the encoder writes before the result is moved into place.
func PartialPath(output string) string {
	return output + ".partial"
}

func (c *FFmpegComposer) Compose(ctx context.Context, req EncodingRequest, progress ProgressFunc) error {
	if err := req.Validate(); err != nil {
		return err
	}
	log := c.logger()

	lock := flock.New(req.Output + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return errors.Wrap(err, "lock output")
	}
	if !locked {
		return errors.Errorf("output %s is being written by another job", req.Output)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(req.Output + ".lock")
	}()

	partial := PartialPath(req.Output)
	args := c.buildFFmpegArgs(req, partial)
	log.WithField("args", strings.Join(args, " ")).Debug("ffmpeg")

	binary := c.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, binary, args...)
	diag := &tailBuffer{limit: 8 << 10}
	cmd.Stderr = diag

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &EncodeError{Err: errors.Wrap(err, "ffmpeg start")}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		readProgress(stdout, req.Frames.Len(), progress)
	}()

	writeErr := writeFrames(ctx, stdin, req.Frames.Paths)
	stdin.Close()
	wg.Wait()
	waitErr := cmd.Wait()

	fail := func(err error) error {
		_ = os.Remove(partial)
		return err
	}
	if ctx.Err() != nil {
		return fail(ctx.Err())
	}
	if waitErr != nil {
		return fail(&EncodeError{Err: waitErr, Diagnostic: diag.String()})
	}
	if writeErr != nil {
		return fail(&EncodeError{Err: writeErr, Diagnostic: diag.String()})
	}
	if fi, err := os.Stat(partial); err != nil || fi.Size() == 0 {
		return fail(&EncodeError{Err: errors.New("encoder produced no output"), Diagnostic: diag.String()})
	}
	if err := os.Rename(partial, req.Output); err != nil {
		return fail(errors.Wrap(err, "move output into place"))
	}

	if progress != nil {
		progress(1)
	}
	log.WithFields(logrus.Fields{"output": req.Output, "frames": req.Frames.Len()}).Info("video encoded")
	return nil
}

func (c *FFmpegComposer) buildFFmpegArgs(req EncodingRequest, dst string) []string {
	fps := strconv.Itoa(req.FPS)
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-progress", "pipe:1",
		"-f", "image2pipe",
		"-framerate", fps,
		"-c:v", "png",
		"-i", "-",
	}
	hasAudio := !req.Audio.Absent()
	if hasAudio {
		args = append(args, "-i", req.Audio.Path)
	}

	// Кадры сняты с device scale factor, приводим к целевому размеру
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d:flags=lanczos", req.Width, req.Height),
		"-r", fps,
		"-pix_fmt", "yuv420p",
		"-c:v", req.Encoder,
	)
	args = append(args, QualityArgs(req.Encoder, req.Quality, req.Preset)...)

	args = append(args, "-map", "0:v")
	if hasAudio {
		bitrate := req.AudioBitrate
		if bitrate == "" {
			bitrate = "192k"
		}
		args = append(args, "-map", "1:a", "-c:a", "aac", "-b:a", bitrate)
	}
	args = append(args, "-movflags", "+faststart", "-f", "mp4", dst)
	return args
}

// QualityArgs maps the quality number onto the encoder's constant-quality control.
func QualityArgs(encoder string, quality int, preset string) []string {
	switch encoder {
	case "h264_videotoolbox":
		return []string{"-q:v", strconv.Itoa(quality)}
	case "h264_nvenc":
		return []string{"-rc", "vbr", "-cq", strconv.Itoa(quality), "-b:v", "0"}
	default: // libx264
		if preset == "" {
			preset = "slow"
		}
		return []string{"-crf", strconv.Itoa(quality), "-preset", preset}
	}
}

// DefaultQuality is used when the config leaves quality at 0.
func DefaultQuality(encoder string) int {
	switch encoder {
	case "h264_videotoolbox":
		return 75
	case "h264_nvenc":
		return 23
	default:
		return 18
	}
}

// writeFrames streams frame files in order. Repeated paths (padding) are read once.
func writeFrames(ctx context.Context, w io.Writer, paths []string) error {
	var prev string
	var data []byte
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p != prev {
			b, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("read frame %d: %w", i, err)
			}
			prev, data = p, b
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	return nil
}

// readProgress parses ffmpeg -progress key=value output.
func readProgress(r io.Reader, total int, progress ProgressFunc) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok || key != "frame" || progress == nil || total <= 0 {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		frac := float64(n) / float64(total)
		if frac > 1 {
			frac = 1
		}
		progress(frac)
	}
	// остаток читаем до EOF, чтобы ffmpeg не заблокировался на записи
	_, _ = io.Copy(io.Discard, r)
}

func (c *FFmpegComposer) logger() *logrus.Entry {
	if c.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return c.Log
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
