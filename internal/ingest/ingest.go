// Package ingest turns uploaded or posted identifier lists into validated
// roll numbers, keeping input order and reporting every rejected row.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/rollnumber"
)

// Mode selects how raw identifiers are validated.
type Mode int

const (
	// Strict requires exactly 19 digits after stripping separators. File
	// uploads use this mode.
	Strict Mode = iota
	// Lenient pads or truncates to 19 digits and rejects only input without
	// digits. Accepted entries that were altered are flagged Lossy.
	Lenient
)

// ParseMode maps "strict" / "lenient" to a Mode. Empty means Lenient.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return Lenient, nil
	case "strict":
		return Strict, nil
	default:
		return Strict, fmt.Errorf("unknown validation mode %q", s)
	}
}

func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

// Accepted is one identifier that passed validation.
type Accepted struct {
	Number rollnumber.Number
	Input  string
	Lossy  bool
}

// Rejection explains why a row was not accepted. Row is the 1-based position
// in the submitted list, which for ReadCSV output is the line in the file.
type Rejection struct {
	Row    int    `json:"row"`
	Input  string `json:"input"`
	Reason string `json:"reason"`
}

// Validate checks every raw identifier in order. Blank entries are skipped
// without a rejection.
func Validate(raw []string, mode Mode) ([]Accepted, []Rejection) {
	accepted := make([]Accepted, 0, len(raw))
	var rejected []Rejection
	for i, in := range raw {
		in = clean(in)
		if in == "" {
			continue
		}
		var (
			n   rollnumber.Number
			err error
		)
		if mode == Strict {
			n, err = rollnumber.ValidateStrict(in)
		} else {
			n, err = rollnumber.Parse(in)
		}
		if err != nil {
			rejected = append(rejected, Rejection{Row: i + 1, Input: in, Reason: reason(err)})
			continue
		}
		accepted = append(accepted, Accepted{Number: n, Input: in, Lossy: rollnumber.Lossy(in)})
	}
	return accepted, rejected
}

// Numbers extracts the roll numbers from accepted entries, or returns
// extraction.ErrNoValidIdentifiers when there are none.
func Numbers(accepted []Accepted) ([]rollnumber.Number, error) {
	if len(accepted) == 0 {
		return nil, extraction.ErrNoValidIdentifiers
	}
	out := make([]rollnumber.Number, len(accepted))
	for i, a := range accepted {
		out[i] = a.Number
	}
	return out, nil
}

// ReadCSV returns the first column of every row, indexed by line: entry i
// holds the cell that starts on line i+1. Blank lines and a leading header
// (a first cell with no digits) come back as empty strings, which Validate
// skips, so rejection rows match line numbers in the file. Rows may have
// differing field counts.
func ReadCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var out []string
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		line, _ := reader.FieldPos(0)
		for len(out) < line-1 {
			out = append(out, "")
		}
		cell := clean(record[0])
		if first {
			first = false
			if cell != "" && rollnumber.Digits(cell) == "" {
				cell = ""
			}
		}
		out = append(out, cell)
	}
	return out, nil
}

func clean(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"'`))
}

func reason(err error) string {
	var verr *extraction.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return err.Error()
}
