package audio

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Prober reports media durations.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// FFprobe runs the ffprobe binary.
type FFprobe struct {
	Binary  string
	Timeout time.Duration
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	binary := strings.TrimSpace(p.Binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-of", "json", "--", path)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, errors.Errorf("ffprobe %s: %v: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return 0, errors.Wrapf(err, "ffprobe %s", path)
	}

	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, errors.Wrap(err, "ffprobe parse")
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(res.Format.Duration), 64)
	if err != nil {
		return 0, errors.Errorf("ffprobe %s: no duration", path)
	}
	return d, nil
}
