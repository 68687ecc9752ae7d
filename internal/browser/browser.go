// Package browser owns the lifecycle of the single browser session used by a
// batch: launch, navigation to the search site, cancellation checkpoints and
// total-effort cleanup.
package browser

import (
	"context"
	"time"
)

// Page is the minimal surface the interaction driver and extractor need from
// a live browser tab. Every call blocks until the condition is met or ctx
// ends.
type Page interface {
	// Navigate loads url and waits for the network to go quiet.
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, selector string) error
	// Fill replaces the value of the input matched by selector.
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	// HTML returns the serialized document without touching it.
	HTML(ctx context.Context) (string, error)
}

// Release is one cleanup step returned by an Engine. Steps are run in slice
// order.
type Release struct {
	Name string
	Fn   func() error
}

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	Headless         bool
	ExecPath         string
	UserAgent        string
	ViewportWidth    int
	ViewportHeight   int
	IgnoreCertErrors bool
	// Timeout bounds the launch; zero means 60s.
	Timeout time.Duration
}

// LaunchTimeout returns the configured launch timeout or the default.
func (o LaunchOptions) LaunchTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 60 * time.Second
}

// Engine launches a browser and opens one page. On error it may still return
// releases for whatever was acquired before the failure.
type Engine interface {
	Name() string
	Launch(ctx context.Context, opts LaunchOptions) (Page, []Release, error)
}
