package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arb-appeal-extractor/internal/browser"
	"github.com/JakeFAU/arb-appeal-extractor/internal/clock/system"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extract"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/interaction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/output"
	pubmemory "github.com/JakeFAU/arb-appeal-extractor/internal/publisher/memory"
	"github.com/JakeFAU/arb-appeal-extractor/internal/rollnumber"
	"github.com/JakeFAU/arb-appeal-extractor/internal/site/estatus"
	"github.com/JakeFAU/arb-appeal-extractor/internal/storage/memory"
)

const appealsPage = `<html><head><title>ARB E-Status</title></head><body>
<span id="MainContent_lblDescription">123 MAIN ST</span>
<span id="MainContent_lblMunicipality">Toronto</span>
<table id="MainContent_gvAppeals">
  <tr><th>Appeal Number</th><th>Name 1</th><th>Status</th></tr>
  <tr><td>2023-0001</td><td>SMITH JOHN</td><td>Scheduled</td></tr>
  <tr><td>2022-0456</td><td>SMITH JOHN</td><td>Closed</td></tr>
</table>
</body></html>`

const emptyGridPage = `<html><head><title>ARB E-Status</title></head><body>
<table id="MainContent_gvAppeals"><tr><th>Appeal Number</th><th>Status</th></tr></table>
</body></html>`

// siteBehavior is how the fake site answers a search for one roll number.
type siteBehavior int

const (
	answerAppeals siteBehavior = iota
	answerNoRecords
	answerEmptyGrid
	answerNothing
)

// sitePage simulates the search form. Searches are keyed by the dashed roll
// number assembled from the six filled segments.
type sitePage struct {
	sel interaction.Selectors

	mu        sync.Mutex
	behavior  map[string]siteBehavior
	navErr    error
	titleErr  error
	gate      chan struct{}
	filled    map[string]string
	current   string
	searches  []string
	navigates int
	onClick   func(key string)
}

func newSitePage(behavior map[string]siteBehavior) *sitePage {
	return &sitePage{
		sel:      estatus.DefaultLayout().FormSelectors(),
		behavior: behavior,
		filled:   map[string]string{},
	}
}

func (p *sitePage) Navigate(ctx context.Context, _ string) error {
	p.mu.Lock()
	gate := p.gate
	p.navigates++
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navErr != nil {
		return p.navErr
	}
	p.filled = map[string]string{}
	p.current = ""
	return nil
}

func (p *sitePage) Title(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.titleErr != nil {
		return "", p.titleErr
	}
	return "ARB E-Status", nil
}

func (p *sitePage) WaitVisible(ctx context.Context, selector string) error {
	p.mu.Lock()
	visible := p.visible(selector)
	p.mu.Unlock()
	if visible {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *sitePage) visible(selector string) bool {
	if selector == p.sel.RollInputs[0] {
		return true
	}
	if p.current == "" {
		return false
	}
	switch p.behavior[p.current] {
	case answerAppeals, answerEmptyGrid:
		return selector == p.sel.Results
	case answerNoRecords:
		return selector == p.sel.NoRecords
	default:
		return false
	}
}

func (p *sitePage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filled[selector] = value
	return nil
}

func (p *sitePage) Click(context.Context, string) error {
	p.mu.Lock()
	parts := make([]string, len(p.sel.RollInputs))
	for i, s := range p.sel.RollInputs {
		parts[i] = p.filled[s]
	}
	key := strings.Join(parts, "-")
	p.current = key
	p.searches = append(p.searches, key)
	hook := p.onClick
	p.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return nil
}

func (p *sitePage) Text(context.Context, string) (string, error) {
	return "No records found.", nil
}

func (p *sitePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.behavior[p.current] == answerEmptyGrid {
		return emptyGridPage, nil
	}
	return appealsPage, nil
}

func (p *sitePage) Searches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.searches...)
}

func (p *sitePage) Navigations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigates
}

type siteEngine struct {
	page      *sitePage
	launchErr error

	mu       sync.Mutex
	launches int
	released int
}

func (e *siteEngine) Name() string { return "fake" }

func (e *siteEngine) Launch(context.Context, browser.LaunchOptions) (browser.Page, []browser.Release, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launches++
	release := []browser.Release{{Name: "page", Fn: func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.released++
		return nil
	}}}
	if e.launchErr != nil {
		return nil, release, e.launchErr
	}
	return e.page, release, nil
}

func (e *siteEngine) counts() (launches, released int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches, e.released
}

type recordingReporter struct {
	mu      sync.Mutex
	updates []extraction.ProgressUpdate
}

func (r *recordingReporter) Report(u extraction.ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recordingReporter) Updates() []extraction.ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]extraction.ProgressUpdate(nil), r.updates...)
}

type failingResults struct {
	*memory.ResultStore
}

func (failingResults) UpsertResult(context.Context, extraction.Result) error {
	return errors.New("disk full")
}

type harness struct {
	engine    *siteEngine
	page      *sitePage
	results   *memory.ResultStore
	batches   *memory.BatchStore
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	reporter  *recordingReporter
	deps      Deps
}

func newHarness(t *testing.T, behavior map[string]siteBehavior) *harness {
	t.Helper()

	page := newSitePage(behavior)
	h := &harness{
		engine:    &siteEngine{page: page},
		page:      page,
		results:   memory.NewResultStore(),
		batches:   memory.NewBatchStore(),
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		reporter:  &recordingReporter{},
	}
	clock := system.NewStepping(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), time.Second)
	h.deps = Deps{
		Engine: h.engine,
		Session: browser.Config{
			URL:               "https://estatus.example.test/",
			NavigationRetries: -1,
		},
		Selectors: page.sel,
		Driver:    interaction.Config{FieldTimeout: time.Second, SearchTimeout: 50 * time.Millisecond},
		Extractor: extract.New(estatus.New(estatus.DefaultLayout()), clock, nil),
		Results:   h.results,
		Batches:   h.batches,
		Output:    output.NewWriter(h.blobs, "runs"),
		Publisher: h.publisher,
		Topic:     "appeals",
		Reporter:  h.reporter,
		Clock:     clock,
	}
	return h
}

func (h *harness) runner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(h.deps)
	require.NoError(t, err)
	return r
}

// key returns the canonical dashed form of raw.
func key(t *testing.T, raw string) string {
	t.Helper()
	n, err := rollnumber.ValidateStrict(raw)
	require.NoError(t, err)
	return n.Key()
}
