package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// State is the lifecycle state of a Session.
type State int32

// Session states. Closed is terminal.
const (
	StateUnstarted State = iota
	StateStarting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotReady is returned when a page operation is attempted outside Ready.
var ErrNotReady = errors.New("browser session not ready")

// Config controls a Session.
type Config struct {
	URL               string
	Launch            LaunchOptions
	NavigationTimeout time.Duration
	// NavigationRetries is the number of extra attempts after a failed
	// navigation. Negative disables retries.
	NavigationRetries int
	// TitleKeywords are matched case-insensitively against the page title
	// after navigation. A miss only logs a warning.
	TitleKeywords []string
}

func (c Config) navTimeout() time.Duration {
	if c.NavigationTimeout > 0 {
		return c.NavigationTimeout
	}
	return 60 * time.Second
}

func (c Config) attempts() int {
	if c.NavigationRetries < 0 {
		return 1
	}
	return 1 + c.NavigationRetries
}

// Session wraps one browser process and page for the duration of a batch.
type Session struct {
	engine Engine
	cfg    Config
	token  *extraction.CancelToken
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	page     Page
	releases []Release
}

// NewSession builds an unstarted session. token may be nil.
func NewSession(engine Engine, cfg Config, token *extraction.CancelToken, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		engine: engine,
		cfg:    cfg,
		token:  token,
		logger: logger.Named("browser"),
		state:  StateUnstarted,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Page returns the live page, or nil unless the session is Ready.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil
	}
	return s.page
}

// CheckCancellation returns extraction.ErrCancelled once the token is set.
func (s *Session) CheckCancellation() error {
	return s.token.Check()
}

// Start launches the browser and opens the page. A failed start releases
// whatever was acquired and leaves the session Closed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUnstarted {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("start session: already %s", state)
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.CheckCancellation(); err != nil {
		s.Close()
		return err
	}

	launchCtx, cancel := context.WithTimeout(ctx, s.cfg.Launch.LaunchTimeout())
	defer cancel()

	start := time.Now()
	page, releases, err := s.engine.Launch(launchCtx, s.cfg.Launch)

	s.mu.Lock()
	s.releases = releases
	if err == nil {
		s.page = page
		s.state = StateReady
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("browser launch failed", zap.String("engine", s.engine.Name()), zap.Error(err))
		s.Close()
		return &extraction.SessionError{Kind: extraction.SessionLaunchFailed, Err: err}
	}
	s.logger.Info("browser started",
		zap.String("engine", s.engine.Name()),
		zap.Bool("headless", s.cfg.Launch.Headless),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Navigate loads the configured site URL. A failed attempt is retried before
// the failure is surfaced as a SessionError.
func (s *Session) Navigate(ctx context.Context) error {
	if err := s.CheckCancellation(); err != nil {
		return err
	}
	page := s.Page()
	if page == nil {
		return ErrNotReady
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.attempts(); attempt++ {
		navCtx, cancel := context.WithTimeout(ctx, s.cfg.navTimeout())
		err := page.Navigate(navCtx, s.cfg.URL)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		s.logger.Warn("navigation attempt failed",
			zap.String("url", s.cfg.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
		if err := s.CheckCancellation(); err != nil {
			return err
		}
	}
	if lastErr != nil {
		return &extraction.SessionError{Kind: extraction.SessionNavigationFailed, Err: lastErr}
	}

	if err := s.CheckCancellation(); err != nil {
		return err
	}
	s.checkTitle(ctx, page)
	return nil
}

func (s *Session) checkTitle(ctx context.Context, page Page) {
	if len(s.cfg.TitleKeywords) == 0 {
		return
	}
	title, err := page.Title(ctx)
	if err != nil {
		s.logger.Warn("read page title", zap.Error(err))
		return
	}
	lower := strings.ToLower(title)
	for _, kw := range s.cfg.TitleKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return
		}
	}
	s.logger.Warn("page title does not look like the appeals site",
		zap.String("title", title),
		zap.Strings("expected_keywords", s.cfg.TitleKeywords),
	)
}

// Close releases page, context, browser and driver in order. Every step runs
// even if an earlier one fails or panics. Errors are logged, never returned.
// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	releases := s.releases
	s.releases = nil
	s.page = nil
	s.mu.Unlock()

	for _, r := range releases {
		s.release(r)
	}
	if len(releases) > 0 {
		s.logger.Info("browser session closed")
	}
}

func (s *Session) release(r Release) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("release panicked", zap.String("step", r.Name), zap.Any("panic", rec))
		}
	}()
	if r.Fn == nil {
		return
	}
	if err := r.Fn(); err != nil {
		s.logger.Warn("release failed", zap.String("step", r.Name), zap.Error(err))
	}
}
