// Package rodengine drives Chrome through go-rod. It is the alternative to
// the chromedp engine, selected with browser.engine=rod.
package rodengine

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/JakeFAU/arb-appeal-extractor/internal/browser"
)

// Engine implements browser.Engine with go-rod.
type Engine struct{}

// New returns a rod engine.
func New() *Engine {
	return &Engine{}
}

// Name identifies the engine in logs.
func (e *Engine) Name() string { return "rod" }

// Launch starts Chrome with the rod launcher, opens an incognito context and
// one page inside it. Releases are returned in page, context, browser, driver
// order.
func (e *Engine) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Page, []browser.Release, error) {
	type launched struct {
		page *rod.Page
		rels []browser.Release
		err  error
	}
	done := make(chan launched, 1)
	go func() {
		page, rels, err := launch(opts)
		done <- launched{page: page, rels: rels, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.rels, res.err
		}
		return newPage(res.page), res.rels, nil
	case <-ctx.Done():
		// The goroutine still owns whatever it acquires; release it once it
		// finishes.
		go func() {
			res := <-done
			for _, r := range res.rels {
				_ = r.Fn()
			}
		}()
		return nil, nil, fmt.Errorf("launch chrome: %w", ctx.Err())
	}
}

func newLauncher(opts browser.LaunchOptions) *launcher.Launcher {
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu")
	if opts.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}
	if opts.ExecPath != "" {
		l = l.Bin(opts.ExecPath)
	}
	return l
}

func launch(opts browser.LaunchOptions) (*rod.Page, []browser.Release, error) {
	l := newLauncher(opts)
	driver := browser.Release{Name: "driver", Fn: func() error {
		l.Kill()
		l.Cleanup()
		return nil
	}}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, []browser.Release{driver}, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, []browser.Release{driver}, fmt.Errorf("connect to chrome: %w", err)
	}
	browserRel := browser.Release{Name: "browser", Fn: b.Close}

	if opts.IgnoreCertErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			return nil, []browser.Release{browserRel, driver}, fmt.Errorf("ignore cert errors: %w", err)
		}
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, []browser.Release{browserRel, driver}, fmt.Errorf("open browser context: %w", err)
	}
	contextRel := browser.Release{Name: "context", Fn: incognito.Close}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, []browser.Release{contextRel, browserRel, driver}, fmt.Errorf("open page: %w", err)
	}
	pageRel := browser.Release{Name: "page", Fn: page.Close}
	rels := []browser.Release{pageRel, contextRel, browserRel, driver}

	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.ViewportWidth,
			Height:            opts.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return nil, rels, fmt.Errorf("set viewport: %w", err)
		}
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return nil, rels, fmt.Errorf("set user agent: %w", err)
		}
	}
	return page, rels, nil
}
