package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/rollnumber"
	"github.com/JakeFAU/arb-appeal-extractor/internal/site"
	"github.com/JakeFAU/arb-appeal-extractor/internal/site/estatus"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type htmlPage struct {
	html    string
	htmlErr error
	reads   int
}

func (p *htmlPage) Navigate(context.Context, string) error { return nil }
func (p *htmlPage) Title(context.Context) (string, error) { return "ARB E-Status", nil }
func (p *htmlPage) WaitVisible(context.Context, string) error { return nil }
func (p *htmlPage) Fill(context.Context, string, string) error { return nil }
func (p *htmlPage) Click(context.Context, string) error { return nil }
func (p *htmlPage) Text(context.Context, string) (string, error) { return "", nil }
func (p *htmlPage) HTML(context.Context) (string, error) {
	p.reads++
	return p.html, p.htmlErr
}

const grid = `<span id="MainContent_lblMunicipality">Toronto</span>
<table id="MainContent_gvAppeals">
<tr><th>Appeal Number</th><th>Status</th></tr>
<tr><td>B-2</td><td>Open</td></tr>
<tr><td>A-1</td><td>Closed</td></tr>
<tr><td>B-2</td><td>Open</td></tr>
</table>`

func number(t *testing.T, raw string) rollnumber.Number {
	t.Helper()
	n, err := rollnumber.Parse(raw)
	require.NoError(t, err)
	return n
}

func TestExtractSuccessPreservesOrder(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(estatus.New(site.Layout{}), fixedClock{t: now}, nil)
	page := &htmlPage{html: grid}

	res, err := e.Extract(context.Background(), page, number(t, "1904012100502000000"))
	require.NoError(t, err)
	require.Equal(t, 1, page.reads)
	require.Equal(t, extraction.OutcomeSuccess, res.Outcome)
	require.Equal(t, "19-04-012-100-50200-0000", res.RollNumber)
	require.Equal(t, now, res.ExtractedAt)
	require.Equal(t, "ARB E-Status", res.PageTitle)
	require.Equal(t, "Toronto", res.Property.Municipality)

	var got []string
	for _, a := range res.Appeals {
		got = append(got, a.AppealNumber)
	}
	require.Equal(t, []string{"B-2", "A-1", "B-2"}, got)
}

func TestExtractTwiceIsIdentical(t *testing.T) {
	t.Parallel()

	e := New(estatus.New(site.Layout{}), fixedClock{t: time.Unix(1, 0)}, nil)
	page := &htmlPage{html: grid}
	n := number(t, "1904012100502000000")

	a, err := e.Extract(context.Background(), page, n)
	require.NoError(t, err)
	b, err := e.Extract(context.Background(), page, n)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestExtractZeroRowsIsNoRecords(t *testing.T) {
	t.Parallel()

	e := New(estatus.New(site.Layout{}), nil, nil)
	res, err := e.Extract(context.Background(), &htmlPage{html: `<html><body>loaded</body></html>`}, number(t, "1"))
	require.NoError(t, err)
	require.Equal(t, extraction.OutcomeNoRecords, res.Outcome)
	require.NotNil(t, res.Appeals)
	require.Empty(t, res.Appeals)
	require.False(t, res.ExtractedAt.IsZero())
}

func TestExtractPageReadFailure(t *testing.T) {
	t.Parallel()

	e := New(estatus.New(site.Layout{}), nil, nil)
	_, err := e.Extract(context.Background(), &htmlPage{htmlErr: errors.New("target crashed")}, number(t, "1"))
	var ee *extraction.ExtractionError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "read page", ee.Reason)
}

func TestNoRecordsResult(t *testing.T) {
	t.Parallel()

	now := time.Unix(50, 0).UTC()
	e := New(estatus.New(site.Layout{}), fixedClock{t: now}, nil)
	res := e.NoRecords(number(t, "000000000000000000"), "ARB")
	require.Equal(t, extraction.OutcomeNoRecords, res.Outcome)
	require.Equal(t, "00-00-000-000-00000-0000", res.RollNumber)
	require.Equal(t, now, res.ExtractedAt)
	require.Empty(t, res.Appeals)
}
