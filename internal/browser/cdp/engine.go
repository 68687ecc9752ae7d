// Package cdp drives Chrome through the DevTools protocol using chromedp.
package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/arb-appeal-extractor/internal/browser"
)

// Engine implements browser.Engine with chromedp.
type Engine struct{}

// New returns a chromedp engine.
func New() *Engine {
	return &Engine{}
}

// Name identifies the engine in logs.
func (e *Engine) Name() string { return "chromedp" }

// Launch starts Chrome and opens a tab. The first chromedp.Run allocates the
// browser, so it runs on the long-lived tab context while ctx only bounds how
// long Launch waits for it.
func (e *Engine) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Page, []browser.Release, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	releases := []browser.Release{
		{Name: "page", Fn: func() error {
			if err := chromedp.Run(tabCtx, page.Close()); err != nil {
				return fmt.Errorf("close page: %w", err)
			}
			return nil
		}},
		{Name: "context", Fn: func() error {
			defer tabCancel()
			if err := chromedp.Cancel(tabCtx); err != nil {
				return fmt.Errorf("cancel browser context: %w", err)
			}
			return nil
		}},
		{Name: "browser", Fn: func() error {
			allocCancel()
			return nil
		}},
	}

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tabCtx, setupActions(opts)...)
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, releases, fmt.Errorf("launch chrome: %w", err)
		}
	case <-ctx.Done():
		return nil, releases, fmt.Errorf("launch chrome: %w", ctx.Err())
	}

	return newPage(tabCtx), releases, nil
}

func allocatorOptions(opts browser.LaunchOptions) []chromedp.ExecAllocatorOption {
	var headless any = false
	if opts.Headless {
		headless = "new"
	}
	out := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	if opts.IgnoreCertErrors {
		out = append(out, chromedp.Flag("ignore-certificate-errors", true))
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		out = append(out, chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight))
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

func setupActions(opts browser.LaunchOptions) []chromedp.Action {
	actions := []chromedp.Action{
		network.Enable(),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		actions = append(actions,
			emulation.SetDeviceMetricsOverride(int64(opts.ViewportWidth), int64(opts.ViewportHeight), 1, false))
	}
	if opts.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(opts.UserAgent))
	}
	return actions
}
