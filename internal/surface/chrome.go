package surface

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/ivlev/html2video/internal/source"
)

// ChromeOptions configures a headless Chrome surface.
type ChromeOptions struct {
	ExecPath    string // empty = chromedp lookup
	Width       int
	Height      int
	Scale       float64 // device scale factor
	LoadTimeout time.Duration
	SettleDelay time.Duration
	Sandbox     bool // keep Chrome's sandbox; containers running as root need it off
	Log         *logrus.Entry
}

// Chrome is a Surface backed by one headless browser process with one tab.
type Chrome struct {
	opts ChromeOptions
	log  *logrus.Entry

	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
}

func NewChrome(opts ChromeOptions) *Chrome {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 60 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Chrome{opts: opts, log: log.WithField("component", "surface")}
}

// ChromeFactory returns a Factory producing independent Chrome surfaces.
func ChromeFactory(opts ChromeOptions) Factory {
	return func() Surface { return NewChrome(opts) }
}

// launchFlags are the Chrome switches added on top of chromedp's headless defaults.
func launchFlags(o ChromeOptions) map[string]any {
	flags := map[string]any{
		"window-size":                  fmt.Sprintf("%d,%d", o.Width, o.Height),
		"hide-scrollbars":              true,
		"mute-audio":                   true,
		"allow-file-access-from-files": true,
		"disable-dev-shm-usage":        true,
		"disable-gpu":                  true,
	}
	if !o.Sandbox {
		flags["no-sandbox"] = true
	}
	return flags
}

func allocatorOptions(o ChromeOptions) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(o) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	return opts
}

// start launches the browser process, bounded by LoadTimeout and ctx.
func (c *Chrome) start(ctx context.Context) error {
	// Браузер живет до Close, а не до отмены ctx вызывающего.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(c.opts)...)
	tab, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(c.log.Debugf))

	// Первый Run запускает процесс; таймаут на его ctx убил бы браузер
	// после возврата, поэтому ждем в отдельной горутине.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tab) }()

	timer := time.NewTimer(c.opts.LoadTimeout)
	defer timer.Stop()

	abort := func() {
		tabCancel()
		allocCancel()
		<-started
	}
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return fmt.Errorf("%w: start browser: %v", ErrLoad, err)
		}
	case <-timer.C:
		abort()
		return fmt.Errorf("%w: browser did not start within %s", ErrLoad, c.opts.LoadTimeout)
	case <-ctx.Done():
		abort()
		return ctx.Err()
	}

	c.allocCancel, c.tab, c.tabCancel = allocCancel, tab, tabCancel
	return nil
}

func (c *Chrome) Load(ctx context.Context, doc source.Document) error {
	if c.tab != nil {
		return errors.New("surface already loaded")
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.start(ctx); err != nil {
		return err
	}

	loadCtx, cancel := context.WithTimeout(c.tab, c.opts.LoadTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	began := time.Now()
	err := chromedp.Run(loadCtx,
		chromedp.EmulateViewport(int64(c.opts.Width), int64(c.opts.Height), chromedp.EmulateScale(c.opts.Scale)),
		chromedp.Navigate(doc.URI),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrLoad, doc.URI, err)
	}
	c.log.WithFields(logrus.Fields{"uri": doc.URI, "elapsed": time.Since(began).Round(time.Millisecond)}).Debug("document loaded")

	// Даем скриптам страницы инициализироваться
	if c.opts.SettleDelay > 0 {
		t := time.NewTimer(c.opts.SettleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	var res struct {
		OK bool `json:"ok"`
	}
	if err := c.eval(ctx, fullBleedScript, &res); err != nil {
		return fmt.Errorf("%w: layout: %v", ErrLoad, err)
	}
	return nil
}

func (c *Chrome) InjectOverlay(ctx context.Context, o Overlay) error {
	js, err := overlayJS(o)
	if err != nil {
		return err
	}
	var res struct {
		OK bool `json:"ok"`
	}
	return c.eval(ctx, js, &res)
}

func (c *Chrome) PrepareTimeline(ctx context.Context) (Timeline, bool, error) {
	var res struct {
		OK            bool    `json:"ok"`
		TotalDuration float64 `json:"totalDuration"`
	}
	if err := c.eval(ctx, prepareTimelineScript, &res); err != nil {
		return Timeline{}, false, err
	}
	if !res.OK {
		return Timeline{}, false, nil
	}
	return Timeline{TotalMs: res.TotalDuration}, true, nil
}

func (c *Chrome) Seek(ctx context.Context, ms float64) error {
	var res struct {
		OK bool `json:"ok"`
	}
	return c.eval(ctx, seekJS(ms), &res)
}

func (c *Chrome) StartSlowMotion(ctx context.Context, speed float64) (Playback, bool, error) {
	var res struct {
		OK            bool    `json:"ok"`
		TotalDuration float64 `json:"totalDuration"`
	}
	if err := c.eval(ctx, slowMotionJS(speed), &res); err != nil {
		return Playback{}, false, err
	}
	if !res.OK {
		return Playback{}, false, nil
	}
	return Playback{TotalMs: res.TotalDuration}, true, nil
}

func (c *Chrome) IsFinished(ctx context.Context) (bool, error) {
	var res struct {
		Finished bool `json:"finished"`
	}
	if err := c.eval(ctx, finishedScript, &res); err != nil {
		return false, err
	}
	return res.Finished, nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close shuts the browser down. Safe to call more than once.
func (c *Chrome) Close() error {
	var err error
	if c.tab != nil {
		err = chromedp.Cancel(c.tab)
		c.tabCancel()
		c.tab, c.tabCancel = nil, nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (c *Chrome) eval(ctx context.Context, js string, res any) error {
	return c.run(ctx, chromedp.Evaluate(js, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

// run executes actions on the tab; cancelling ctx aborts the actions but keeps the tab.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	if c.tab == nil {
		return errors.New("surface not loaded")
	}
	opCtx, cancel := context.WithCancel(c.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
