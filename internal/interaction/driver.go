// Package interaction fills the roll number search form and waits for the
// site to answer.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/browser"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// ResultState is the terminal condition observed after a search.
type ResultState int

// Result states.
const (
	ResultsFound ResultState = iota + 1
	NoRecords
)

func (s ResultState) String() string {
	switch s {
	case ResultsFound:
		return "results_found"
	case NoRecords:
		return "no_records"
	default:
		return "unknown"
	}
}

// Selectors locate the form controls and the two result indicators.
type Selectors struct {
	RollInputs [6]string
	Submit     string
	Results    string
	NoRecords  string
	// NoRecordsText must appear in the NoRecords element for the search to
	// count as "no records". Any other text there is a site error. Empty
	// accepts any text.
	NoRecordsText string
}

// Config bounds the individual waits.
type Config struct {
	FieldTimeout  time.Duration
	SearchTimeout time.Duration
}

func (c Config) fieldTimeout() time.Duration {
	if c.FieldTimeout > 0 {
		return c.FieldTimeout
	}
	return 10 * time.Second
}

func (c Config) searchTimeout() time.Duration {
	if c.SearchTimeout > 0 {
		return c.SearchTimeout
	}
	return 30 * time.Second
}

// Driver performs the form interaction on one page.
type Driver struct {
	page   browser.Page
	sel    Selectors
	cfg    Config
	token  *extraction.CancelToken
	logger *zap.Logger
}

// New builds a Driver. token may be nil.
func New(page browser.Page, sel Selectors, cfg Config, token *extraction.CancelToken, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{page: page, sel: sel, cfg: cfg, token: token, logger: logger.Named("interaction")}
}

// EnterIdentifier writes one segment into each of the six inputs, in order.
func (d *Driver) EnterIdentifier(ctx context.Context, segments [6]string) error {
	if err := d.token.Check(); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.fieldTimeout())
	err := d.page.WaitVisible(waitCtx, d.sel.RollInputs[0])
	cancel()
	if err != nil {
		return &extraction.SubmissionError{Kind: extraction.SubmissionInteraction, Message: "search form not visible", Err: err}
	}

	for i, seg := range segments {
		if err := d.token.Check(); err != nil {
			return err
		}
		fillCtx, cancel := context.WithTimeout(ctx, d.cfg.fieldTimeout())
		err := d.page.Fill(fillCtx, d.sel.RollInputs[i], seg)
		cancel()
		if err != nil {
			return &extraction.SubmissionError{
				Kind:    extraction.SubmissionInteraction,
				Message: fmt.Sprintf("fill segment %d", i+1),
				Err:     err,
			}
		}
	}
	return nil
}

type raceOutcome struct {
	state ResultState
	err   error
}

// Submit clicks search and races the results indicator against the
// no-records indicator under the search timeout. The first indicator to
// become visible wins. If neither appears the search fails; it is never
// treated as "no records".
func (d *Driver) Submit(ctx context.Context) (ResultState, error) {
	if err := d.token.Check(); err != nil {
		return 0, err
	}

	clickCtx, cancelClick := context.WithTimeout(ctx, d.cfg.fieldTimeout())
	err := d.page.Click(clickCtx, d.sel.Submit)
	cancelClick()
	if err != nil {
		return 0, &extraction.SubmissionError{Kind: extraction.SubmissionInteraction, Message: "click search", Err: err}
	}

	raceCtx, cancel := context.WithTimeout(ctx, d.cfg.searchTimeout())
	defer cancel()

	results := make(chan raceOutcome, 2)
	wait := func(state ResultState, selector string) {
		results <- raceOutcome{state: state, err: d.page.WaitVisible(raceCtx, selector)}
	}
	go wait(ResultsFound, d.sel.Results)
	go wait(NoRecords, d.sel.NoRecords)

	var (
		winner ResultState
		errs   []error
	)
	for i := 0; i < 2 && winner == 0; i++ {
		o := <-results
		if o.err == nil {
			winner = o.state
			continue
		}
		errs = append(errs, o.err)
	}
	cancel()

	if winner == 0 {
		switch {
		case ctx.Err() != nil:
			return 0, fmt.Errorf("submit search: %w", ctx.Err())
		case errors.Is(raceCtx.Err(), context.DeadlineExceeded):
			return 0, &extraction.SubmissionError{
				Kind:    extraction.SubmissionTimeout,
				Message: fmt.Sprintf("no results or no-records indicator within %s", d.cfg.searchTimeout()),
				Err:     context.DeadlineExceeded,
			}
		default:
			return 0, &extraction.SubmissionError{
				Kind:    extraction.SubmissionInteraction,
				Message: "wait for search result",
				Err:     errors.Join(errs...),
			}
		}
	}

	if err := d.token.Check(); err != nil {
		return 0, err
	}
	d.logger.Debug("search resolved", zap.Stringer("state", winner))

	if winner == ResultsFound {
		return ResultsFound, nil
	}
	return d.confirmNoRecords(ctx)
}

func (d *Driver) confirmNoRecords(ctx context.Context) (ResultState, error) {
	textCtx, cancel := context.WithTimeout(ctx, d.cfg.fieldTimeout())
	defer cancel()
	text, err := d.page.Text(textCtx, d.sel.NoRecords)
	if err != nil {
		return 0, &extraction.SubmissionError{Kind: extraction.SubmissionInteraction, Message: "read no-records indicator", Err: err}
	}
	text = strings.TrimSpace(text)
	if d.sel.NoRecordsText == "" || strings.Contains(strings.ToLower(text), strings.ToLower(d.sel.NoRecordsText)) {
		return NoRecords, nil
	}
	return 0, &extraction.SubmissionError{Kind: extraction.SubmissionSiteError, Message: text}
}
