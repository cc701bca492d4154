// Package browser manages a single headless browser process and exposes
// request-interception primitives over the Chrome DevTools Protocol (spec
// §4.1). It is the only package in the core that talks to chromedp
// directly.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/percyio/percy-core/internal/percy"
)

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	// ExecPath overrides the discovered browser executable. Empty uses
	// chromedp's own discovery, which looks for an already-installed
	// Chrome/Chromium; no browser is downloaded when none is found.
	ExecPath string

	// Timeout bounds how long Launch waits for the debugging endpoint to
	// become ready. Defaults to 30s.
	Timeout time.Duration
}

// Controller launches and owns a single headless browser process, shared
// across all discovery jobs for the lifetime of a PercyCore instance (spec
// §3 Ownership).
type Controller struct {
	log zerolog.Logger

	mu         sync.Mutex
	launched   bool
	allocCtx   context.Context
	cancelAll  context.CancelFunc
	browserCtx context.Context
	cancelBrw  context.CancelFunc

	pagesMu sync.Mutex
	pages   map[*Page]struct{}
}

// New creates a Controller. It does not launch the browser; call Launch.
func New(log zerolog.Logger) *Controller {
	return &Controller{
		log:   log.With().Str("component", "browser").Logger(),
		pages: make(map[*Page]struct{}),
	}
}

// chromeArgs is the deterministic flag set applied to every launch: headless,
// no sandbox (required in most CI containers), no /dev/shm usage (avoids
// crashes in memory-constrained containers), and no visible scrollbars
// (keeps viewport screenshots and layout deterministic).
func chromeArgs() []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
}

// Launch starts the browser process and waits for the debugging endpoint to
// become ready. Idempotent: a second call while already launched is a no-op.
func (c *Controller) Launch(ctx context.Context, opts LaunchOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.launched {
		return nil
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	args := chromeArgs()
	if opts.ExecPath != "" {
		args = append(args, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), args...)

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(string, ...any) {}),
		chromedp.WithErrorf(func(string, ...any) {}),
		chromedp.WithDebugf(func(string, ...any) {}),
	)

	readyCtx, cancelReady := context.WithTimeout(browserCtx, timeout)
	defer cancelReady()

	if err := chromedp.Run(readyCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("%w: %v", percy.ErrBrowserLaunch, err)
	}

	c.allocCtx = allocCtx
	c.cancelAll = cancelAlloc
	c.browserCtx = browserCtx
	c.cancelBrw = cancelBrowser
	c.launched = true

	c.log.Debug().Msg("browser launched")
	return nil
}

// Close closes all tracked pages then tears down the browser. Idempotent.
func (c *Controller) Close() error {
	c.pagesMu.Lock()
	pages := make([]*Page, 0, len(c.pages))
	for p := range c.pages {
		pages = append(pages, p)
	}
	c.pages = make(map[*Page]struct{})
	c.pagesMu.Unlock()

	// Page.Close untracks itself under pagesMu, so pages are closed only
	// after the lock is released.
	for _, p := range pages {
		_ = p.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.launched {
		return nil
	}
	c.cancelBrw()
	c.cancelAll()
	c.launched = false
	return nil
}

func (c *Controller) trackPage(p *Page) {
	c.pagesMu.Lock()
	c.pages[p] = struct{}{}
	c.pagesMu.Unlock()
}

func (c *Controller) untrackPage(p *Page) {
	c.pagesMu.Lock()
	delete(c.pages, p)
	c.pagesMu.Unlock()
}
