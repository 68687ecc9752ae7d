// Package estatus reads the ARB E-Status appeals search page.
package estatus

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/site"
)

// Version is the registry name of this reader.
const Version = "estatus-v1"

// DefaultLayout returns the selectors used by the current E-Status markup.
func DefaultLayout() site.Layout {
	return site.Layout{
		RollInputs: [6]string{
			"#MainContent_txtRollNo1",
			"#MainContent_txtRollNo2",
			"#MainContent_txtRollNo3",
			"#MainContent_txtRollNo4",
			"#MainContent_txtRollNo5",
			"#MainContent_txtRollNo6",
		},
		Submit:        "#MainContent_btnSubmit",
		Results:       "#MainContent_gvAppeals",
		NoRecords:     "#MainContent_lblErr",
		NoRecordsText: "No records found",
	}
}

// PropertySelectors locate the property block above the appeals grid.
type PropertySelectors struct {
	Description    string
	Municipality   string
	Classification string
	Neighbourhood  string
}

// DefaultPropertySelectors returns the current E-Status property labels.
func DefaultPropertySelectors() PropertySelectors {
	return PropertySelectors{
		Description:    "#MainContent_lblDescription",
		Municipality:   "#MainContent_lblMunicipality",
		Classification: "#MainContent_lblClassification",
		Neighbourhood:  "#MainContent_lblNbhd",
	}
}

type field int

const (
	fieldAppealNumber field = iota
	fieldStatus
	fieldName1
	fieldName2
	fieldRepresentative
	fieldFilingDate
	fieldTaxDate
	fieldSection
	fieldHearingNumber
	fieldHearingDate
	fieldBoardOrder
	fieldDecisionNumber
	fieldMailingDate
	fieldDecision
	fieldReason
	fieldDecisionDetails
)

// headerFields maps normalized column headers to record fields.
var headerFields = map[string]field{
	"appealnumber":     fieldAppealNumber,
	"appealno":         fieldAppealNumber,
	"appeal":           fieldAppealNumber,
	"status":           fieldStatus,
	"appealstatus":     fieldStatus,
	"name1":            fieldName1,
	"appellant":        fieldName1,
	"appellantname":    fieldName1,
	"name2":            fieldName2,
	"representative":   fieldRepresentative,
	"agent":            fieldRepresentative,
	"filingdate":       fieldFilingDate,
	"datefiled":        fieldFilingDate,
	"taxdate":          fieldTaxDate,
	"taxyear":          fieldTaxDate,
	"section":          fieldSection,
	"hearingnumber":    fieldHearingNumber,
	"hearingno":        fieldHearingNumber,
	"hearingdate":      fieldHearingDate,
	"boardordernumber": fieldBoardOrder,
	"boardorderno":     fieldBoardOrder,
	"boardorder":       fieldBoardOrder,
	"decisionnumber":   fieldDecisionNumber,
	"decisionno":       fieldDecisionNumber,
	"mailingdate":      fieldMailingDate,
	"datemailed":       fieldMailingDate,
	"decision":         fieldDecision,
	"reasonforappeal":  fieldReason,
	"reason":           fieldReason,
	"decisiondetails":  fieldDecisionDetails,
	"details":          fieldDecisionDetails,
}

// Reader implements site.Reader for E-Status.
type Reader struct {
	layout   site.Layout
	property PropertySelectors
}

// New builds a reader. Empty fields in layout fall back to DefaultLayout.
func New(layout site.Layout) *Reader {
	return &Reader{
		layout:   layout.Merge(DefaultLayout()),
		property: DefaultPropertySelectors(),
	}
}

// Version implements site.Reader.
func (r *Reader) Version() string { return Version }

// Layout implements site.Reader.
func (r *Reader) Layout() site.Layout { return r.layout }

// Read pulls the property block and every appeal row in page order. A page
// without the results grid, or with a grid that has no data rows, yields no
// appeals. A grid whose header has no appeal number column is rejected.
func (r *Reader) Read(doc *goquery.Document) (site.Parsed, error) {
	parsed := site.Parsed{
		Property: extraction.PropertyInfo{
			Description:    text(doc.Find(r.property.Description).First()),
			Municipality:   text(doc.Find(r.property.Municipality).First()),
			Classification: text(doc.Find(r.property.Classification).First()),
			Neighbourhood:  text(doc.Find(r.property.Neighbourhood).First()),
		},
		Appeals: []extraction.AppealRecord{},
	}

	grid := doc.Find(r.layout.Results).First()
	if grid.Length() == 0 {
		return parsed, nil
	}

	rows := grid.ChildrenFiltered("thead, tbody, tfoot").ChildrenFiltered("tr")
	if rows.Length() == 0 {
		rows = grid.ChildrenFiltered("tr")
	}
	if rows.Length() == 0 {
		return parsed, nil
	}

	header := rows.First()
	columns := mapColumns(header)
	if _, ok := columns[fieldAppealNumber]; !ok {
		return site.Parsed{}, &extraction.ExtractionError{Reason: "results grid has no appeal number column"}
	}

	rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() == 0 || row.Find("table").Length() > 0 {
			// Pager and spacer rows.
			return
		}
		parsed.Appeals = append(parsed.Appeals, readRow(cells, columns))
	})
	return parsed, nil
}

func mapColumns(header *goquery.Selection) map[field]int {
	cells := header.ChildrenFiltered("th")
	if cells.Length() == 0 {
		cells = header.ChildrenFiltered("td")
	}
	columns := make(map[field]int, cells.Length())
	cells.Each(func(i int, cell *goquery.Selection) {
		f, ok := headerFields[normalizeHeader(cell.Text())]
		if !ok {
			return
		}
		if _, seen := columns[f]; !seen {
			columns[f] = i
		}
	})
	return columns
}

func readRow(cells *goquery.Selection, columns map[field]int) extraction.AppealRecord {
	get := func(f field) string {
		idx, ok := columns[f]
		if !ok || idx >= cells.Length() {
			return ""
		}
		return text(cells.Eq(idx))
	}
	return extraction.AppealRecord{
		AppealNumber: get(fieldAppealNumber),
		Status:       get(fieldStatus),
		Appellant: extraction.Appellant{
			Name1:          get(fieldName1),
			Name2:          get(fieldName2),
			Representative: get(fieldRepresentative),
			FilingDate:     get(fieldFilingDate),
			TaxDate:        get(fieldTaxDate),
			Section:        get(fieldSection),
		},
		Hearing: extraction.Hearing{
			HearingNumber:    get(fieldHearingNumber),
			HearingDate:      get(fieldHearingDate),
			BoardOrderNumber: get(fieldBoardOrder),
			DecisionNumber:   get(fieldDecisionNumber),
			MailingDate:      get(fieldMailingDate),
			Decision:         get(fieldDecision),
		},
		Reason:          get(fieldReason),
		DecisionDetails: get(fieldDecisionDetails),
	}
}

func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// text collapses whitespace, including the non-breaking spaces ASP.NET puts
// in empty cells.
func text(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}
