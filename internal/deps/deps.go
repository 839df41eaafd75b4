package deps

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ivlev/html2video/internal/config"
)

// Requirement is an external program the pipeline shells out to.
type Requirement struct {
	Name        string
	Commands    []string // first one found on PATH wins
	Description string
	Optional    bool
}

// Status reports whether a requirement was found.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// chromeNames are tried in order when no browser path is configured.
var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// Requirements lists the programs a render needs for cfg.
func Requirements(cfg *config.Config) []Requirement {
	chrome := chromeNames
	if c := strings.TrimSpace(cfg.Binaries.Chrome); c != "" {
		chrome = []string{c}
	}
	return []Requirement{
		{Name: "FFmpeg", Commands: []string{cfg.Binaries.FFmpeg}, Description: "audio mixing and video encoding"},
		{Name: "FFprobe", Commands: []string{cfg.Binaries.FFprobe}, Description: "narration clip durations"},
		{Name: "Chrome", Commands: chrome, Description: "headless rendering surface"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		status := Status{
			Name:        req.Name,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		var tried []string
		for _, cmd := range req.Commands {
			cmd = strings.TrimSpace(cmd)
			if cmd == "" {
				continue
			}
			tried = append(tried, cmd)
			if path, err := exec.LookPath(cmd); err == nil {
				status.Command = path
				status.Available = true
				break
			}
		}
		switch {
		case status.Available:
		case len(tried) == 0:
			status.Detail = "command not configured"
		default:
			status.Command = tried[0]
			status.Detail = fmt.Sprintf("binary %q not found", tried[0])
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}

// ChromePath returns the resolved browser path, or "" to let chromedp search itself.
func ChromePath(statuses []Status) string {
	for _, s := range statuses {
		if s.Name == "Chrome" && s.Available {
			return s.Command
		}
	}
	return ""
}

// WriteTable renders statuses as a table.
func WriteTable(w io.Writer, statuses []Status) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Dependency", "Status", "Command", "Used for"})
	for _, s := range statuses {
		state := "OK"
		if !s.Available {
			state = "MISSING"
			if s.Optional {
				state = "optional"
			}
		}
		cmd := s.Command
		if s.Detail != "" {
			cmd = s.Detail
		}
		t.AppendRow(table.Row{s.Name, state, cmd, s.Description})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
