package cdp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arb-appeal-extractor/internal/browser"
)

func TestAllocatorOptionsAddsConfiguredFlags(t *testing.T) {
	t.Parallel()

	base := len(allocatorOptions(browser.LaunchOptions{}))
	full := allocatorOptions(browser.LaunchOptions{
		Headless:         true,
		ExecPath:         "/usr/bin/chromium",
		UserAgent:        "arb-extractor",
		ViewportWidth:    1600,
		ViewportHeight:   900,
		IgnoreCertErrors: true,
	})
	require.Equal(t, base+4, len(full))
}

func TestSetupActionsIncludesViewportAndUserAgent(t *testing.T) {
	t.Parallel()

	base := setupActions(browser.LaunchOptions{})
	require.Len(t, base, 3)

	full := setupActions(browser.LaunchOptions{ViewportWidth: 1600, ViewportHeight: 900, UserAgent: "ua"})
	require.Len(t, full, 5)
}

func TestDeriveFollowsCallerDeadlineAndCancel(t *testing.T) {
	t.Parallel()

	p := newPage(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	runCtx, release := p.derive(ctx)
	defer release()

	deadline, ok := runCtx.Deadline()
	require.True(t, ok)
	want, _ := ctx.Deadline()
	require.Equal(t, want, deadline)

	cancel()
	require.Eventually(t, func() bool { return runCtx.Err() != nil }, time.Second, 5*time.Millisecond)
}

func TestDeriveReleaseLeavesTabAlive(t *testing.T) {
	t.Parallel()

	tab, cancelTab := context.WithCancel(context.Background())
	defer cancelTab()
	p := newPage(tab)

	runCtx, release := p.derive(context.Background())
	release()
	require.Error(t, runCtx.Err())
	require.NoError(t, tab.Err())
}

func TestEngineName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "chromedp", New().Name())
}
