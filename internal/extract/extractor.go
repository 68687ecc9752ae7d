// Package extract turns a loaded results page into an extraction.Result.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/browser"
	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/rollnumber"
	"github.com/JakeFAU/arb-appeal-extractor/internal/site"
)

// Extractor reads a results page through a site Reader.
type Extractor struct {
	reader site.Reader
	clock  extraction.Clock
	logger *zap.Logger
}

// New builds an Extractor. A nil clock uses time.Now in UTC.
func New(reader site.Reader, clock extraction.Clock, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{reader: reader, clock: clock, logger: logger.Named("extract")}
}

func (e *Extractor) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now().UTC()
}

// Extract snapshots the page HTML once and parses the snapshot, so the live
// page is never touched. Zero appeal rows on a loaded page is a no-records
// outcome, not a failure.
func (e *Extractor) Extract(ctx context.Context, page browser.Page, number rollnumber.Number) (extraction.Result, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return extraction.Result{}, &extraction.ExtractionError{Reason: "read page", Err: err}
	}
	title, err := page.Title(ctx)
	if err != nil {
		e.logger.Debug("read title", zap.String("roll_number", number.Key()), zap.Error(err))
	}
	return e.Parse(html, title, number)
}

// Parse builds a result from a serialized page.
func (e *Extractor) Parse(html, title string, number rollnumber.Number) (extraction.Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return extraction.Result{}, &extraction.ExtractionError{Reason: "parse html", Err: err}
	}
	parsed, err := e.reader.Read(doc)
	if err != nil {
		return extraction.Result{}, err
	}

	appeals := parsed.Appeals
	if appeals == nil {
		appeals = []extraction.AppealRecord{}
	}
	outcome := extraction.OutcomeSuccess
	if len(appeals) == 0 {
		outcome = extraction.OutcomeNoRecords
	}
	return extraction.Result{
		RollNumber:  number.Key(),
		ExtractedAt: e.now(),
		Outcome:     outcome,
		PageTitle:   title,
		Property:    parsed.Property,
		Appeals:     appeals,
	}, nil
}

// NoRecords builds the result for a search the site answered with its
// no-records indicator.
func (e *Extractor) NoRecords(number rollnumber.Number, title string) extraction.Result {
	return extraction.Result{
		RollNumber:  number.Key(),
		ExtractedAt: e.now(),
		Outcome:     extraction.OutcomeNoRecords,
		PageTitle:   title,
		Appeals:     []extraction.AppealRecord{},
	}
}
