package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/ivlev/html2video/internal/engine"
)

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newProgress draws a bar on a terminal and prints a line per stage otherwise.
// The returned func finishes the display.
func newProgress(out *os.File) (engine.ProgressFunc, func()) {
	if !isTerminal(out) {
		var last engine.Stage
		return func(ev engine.Event) {
			if ev.Stage == last {
				return
			}
			last = ev.Stage
			fmt.Fprintf(out, "[>] %3.0f%% %s: %s\n", ev.Percent, ev.Stage, ev.Message)
		}, func() {}
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("prepare"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
	)
	update := func(ev engine.Event) {
		bar.Describe(fmt.Sprintf("%-9s %s", ev.Stage, ev.Message))
		_ = bar.Set(int(ev.Percent))
	}
	finish := func() {
		_ = bar.Finish()
		fmt.Fprintln(out)
	}
	return update, finish
}
