package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
)

// BenchmarkLog is appended to in the output directory when stats are enabled.
const BenchmarkLog = "benchmark.log"

var reportStages = []Stage{StagePrepare, StageNarration, StageLoad, StageCapture, StageReconcile, StageMix, StageEncode}

// captureFPS is frames captured per wall-clock second of the capture stage.
func captureFPS(res Result) float64 {
	d := res.Timings[StageCapture]
	if d <= 0 {
		return 0
	}
	return float64(res.Captured) / d.Seconds()
}

func (p *Pipeline) writeReport(job Job, res Result, log *logrus.Entry) {
	if p.Report != nil {
		t := table.NewWriter()
		t.SetOutputMirror(p.Report)
		t.SetTitle("PERFORMANCE REPORT")
		t.AppendHeader(table.Row{"Stage", "Time"})
		for _, s := range reportStages {
			t.AppendRow(table.Row{s, res.Timings[s].Round(time.Millisecond)})
		}
		t.AppendSeparator()
		t.AppendRow(table.Row{"Build", p.Config.BuildVersion})
		t.AppendRow(table.Row{"Total", fmt.Sprintf("%.2fs", res.ElapsedSeconds)})
		t.AppendRow(table.Row{"Strategy", res.Strategy})
		t.AppendRow(table.Row{"Frames", fmt.Sprintf("%d captured, %d encoded (%s)", res.Captured, res.Frames, res.Reconcile)})
		t.AppendRow(table.Row{"Capture FPS", fmt.Sprintf("%.2f", captureFPS(res))})
		t.AppendRow(table.Row{"Frame data", humanize.Bytes(uint64(res.FrameBytes))})
		t.AppendRow(table.Row{"RSS (self + children)", fmt.Sprintf("%s + %s (%d proc)",
			humanize.Bytes(res.Process.RSS), humanize.Bytes(res.Process.ChildrenRSS), res.Process.Children)})
		t.AppendRow(table.Row{"CPU", fmt.Sprintf("%.1f%%", res.Process.CPUPercent)})
		t.SetStyle(table.StyleLight)
		t.Render()
	}

	// Логирование в файл рядом с результатом
	entry := fmt.Sprintf("[%s] Build: %s | Input: %s | Strategy: %s | Frames: %d | Total: %.2fs | Capture: %.2fs | Encode: %.2fs | FPS: %.2f | RSS: %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		p.Config.BuildVersion,
		job.Document.Name(),
		res.Strategy,
		res.Frames,
		res.ElapsedSeconds,
		res.Timings[StageCapture].Seconds(),
		res.Timings[StageEncode].Seconds(),
		captureFPS(res),
		humanize.Bytes(res.Process.RSS+res.Process.ChildrenRSS),
	)
	path := filepath.Join(filepath.Dir(job.Output), BenchmarkLog)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.WithError(err).Warn("cannot write " + BenchmarkLog)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		log.WithError(err).Warn("cannot write " + BenchmarkLog)
	}
}
