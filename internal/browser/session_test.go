package browser

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

type stubPage struct {
	mu       sync.Mutex
	navErrs  []error
	navCalls int
	title    string
}

func (p *stubPage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navCalls++
	if len(p.navErrs) == 0 {
		return nil
	}
	err := p.navErrs[0]
	p.navErrs = p.navErrs[1:]
	return err
}

func (p *stubPage) Title(context.Context) (string, error) { return p.title, nil }
func (p *stubPage) WaitVisible(context.Context, string) error { return nil }
func (p *stubPage) Fill(context.Context, string, string) error { return nil }
func (p *stubPage) Click(context.Context, string) error { return nil }
func (p *stubPage) Text(context.Context, string) (string, error) { return "", nil }
func (p *stubPage) HTML(context.Context) (string, error) { return "<html></html>", nil }

type stubEngine struct {
	page      Page
	err       error
	releases  []Release
	launches  int
	launchCtx context.Context
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Launch(ctx context.Context, _ LaunchOptions) (Page, []Release, error) {
	e.launches++
	e.launchCtx = ctx
	return e.page, e.releases, e.err
}

func recordingReleases(order *[]string, failing map[string]error, panicking string) []Release {
	names := []string{"page", "context", "browser", "driver"}
	out := make([]Release, 0, len(names))
	for _, name := range names {
		out = append(out, Release{Name: name, Fn: func() error {
			*order = append(*order, name)
			if name == panicking {
				panic("boom")
			}
			return failing[name]
		}})
	}
	return out
}

func TestSessionStartAndClose(t *testing.T) {
	t.Parallel()

	var order []string
	engine := &stubEngine{page: &stubPage{}, releases: recordingReleases(&order, nil, "")}
	s := NewSession(engine, Config{URL: "https://example.test"}, nil, zap.NewNop())

	require.Equal(t, StateUnstarted, s.State())
	require.Nil(t, s.Page())
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, StateReady, s.State())
	require.NotNil(t, s.Page())

	_, hasDeadline := engine.launchCtx.Deadline()
	require.True(t, hasDeadline)

	s.Close()
	s.Close()
	require.Equal(t, StateClosed, s.State())
	require.Equal(t, []string{"page", "context", "browser", "driver"}, order)

	require.Error(t, s.Start(context.Background()))
	require.Equal(t, 1, engine.launches)
}

func TestSessionCloseRunsEveryStep(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	var order []string
	engine := &stubEngine{
		page:     &stubPage{},
		releases: recordingReleases(&order, map[string]error{"page": errors.New("target gone")}, "context"),
	}
	s := NewSession(engine, Config{}, nil, zap.New(core))
	require.NoError(t, s.Start(context.Background()))

	require.NotPanics(t, s.Close)
	require.Equal(t, []string{"page", "context", "browser", "driver"}, order)
	require.Equal(t, 1, logs.FilterMessage("release failed").Len())
	require.Equal(t, 1, logs.FilterMessage("release panicked").Len())
}

func TestSessionStartFailureReleasesPartialResources(t *testing.T) {
	t.Parallel()

	var order []string
	engine := &stubEngine{
		err:      errors.New("chrome not found"),
		releases: recordingReleases(&order, nil, "")[2:],
	}
	s := NewSession(engine, Config{}, nil, nil)

	err := s.Start(context.Background())
	var se *extraction.SessionError
	require.ErrorAs(t, err, &se)
	require.Equal(t, extraction.SessionLaunchFailed, se.Kind)
	require.Equal(t, StateClosed, s.State())
	require.Equal(t, []string{"browser", "driver"}, order)
}

func TestSessionStartHonoursCancellation(t *testing.T) {
	t.Parallel()

	token := extraction.NewCancelToken()
	token.Cancel()
	engine := &stubEngine{page: &stubPage{}}
	s := NewSession(engine, Config{}, token, nil)

	require.ErrorIs(t, s.Start(context.Background()), extraction.ErrCancelled)
	require.Equal(t, 0, engine.launches)
	require.Equal(t, StateClosed, s.State())
}

func TestSessionNavigateRetriesOnce(t *testing.T) {
	t.Parallel()

	page := &stubPage{navErrs: []error{context.DeadlineExceeded}, title: "ARB E-Status"}
	s := NewSession(&stubEngine{page: page}, Config{URL: "https://example.test", NavigationRetries: 1}, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	require.NoError(t, s.Navigate(context.Background()))
	require.Equal(t, 2, page.navCalls)
}

func TestSessionNavigateFailsAfterRetry(t *testing.T) {
	t.Parallel()

	page := &stubPage{navErrs: []error{context.DeadlineExceeded, context.DeadlineExceeded, nil}}
	s := NewSession(&stubEngine{page: page}, Config{NavigationRetries: 1}, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	err := s.Navigate(context.Background())
	var se *extraction.SessionError
	require.ErrorAs(t, err, &se)
	require.Equal(t, extraction.SessionNavigationFailed, se.Kind)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 2, page.navCalls)
}

func TestSessionNavigateWarnsOnUnexpectedTitle(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	page := &stubPage{title: "Service Unavailable"}
	cfg := Config{TitleKeywords: []string{"E-Status", "ARB", "Appeals"}}
	s := NewSession(&stubEngine{page: page}, cfg, nil, zap.New(core))
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	require.NoError(t, s.Navigate(context.Background()))
	require.Equal(t, 1, logs.FilterMessage("page title does not look like the appeals site").Len())
}

func TestSessionNavigateRequiresReady(t *testing.T) {
	t.Parallel()

	s := NewSession(&stubEngine{page: &stubPage{}}, Config{}, nil, nil)
	require.ErrorIs(t, s.Navigate(context.Background()), ErrNotReady)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "state(9)", State(9).String())
}
