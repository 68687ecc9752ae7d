// Package rollnumber parses, validates and segments 19-digit property roll
// numbers.
package rollnumber

import (
	"strings"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// Length is the number of digits in a roll number.
const Length = 19

// widths are the fixed segment widths used by the search form and the
// canonical dashed rendering.
var widths = [6]int{2, 2, 3, 3, 5, 4}

// Number is a 19-digit roll number. The zero value is not valid; build one
// with Parse or ValidateStrict.
type Number struct {
	digits string
}

// Digits strips every non-digit character from raw.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateStrict accepts raw only when exactly 19 digits remain after
// stripping separators. Used at ingestion.
func ValidateStrict(raw string) (Number, error) {
	d := Digits(raw)
	switch {
	case d == "":
		return Number{}, &extraction.ValidationError{Input: raw, Reason: "no digits"}
	case len(d) != Length:
		return Number{}, &extraction.ValidationError{Input: raw, Reason: "expected 19 digits"}
	}
	return Number{digits: d}, nil
}

// Parse is the lenient form of ValidateStrict: it right-pads short input with
// zeros and truncates long input to the first 19 digits. It fails only when
// raw carries no digits. Use Lossy to detect whether Parse altered the input.
func Parse(raw string) (Number, error) {
	d := Digits(raw)
	if d == "" {
		return Number{}, &extraction.ValidationError{Input: raw, Reason: "no digits"}
	}
	return Number{digits: fit(d)}, nil
}

// Lossy reports whether Parse would pad or truncate raw.
func Lossy(raw string) bool {
	return len(Digits(raw)) != Length
}

// NormalizeForEntry returns the six form segments for raw. Input shorter than
// 19 digits is right-padded with zeros, longer input is truncated. Empty input
// yields all-zero segments.
func NormalizeForEntry(raw string) [6]string {
	return segment(fit(Digits(raw)))
}

// Format renders n in the dash-joined canonical form.
func Format(n Number) string {
	s := n.Segments()
	return strings.Join(s[:], "-")
}

// Segments splits n into the six fixed-width fields.
func (n Number) Segments() [6]string {
	return segment(fit(n.digits))
}

// String returns the canonical dashed form.
func (n Number) String() string { return Format(n) }

// Digits returns the bare 19 digits.
func (n Number) Digits() string { return fit(n.digits) }

// Key is the lookup and storage key for n.
func (n Number) Key() string { return Format(n) }

// IsZero reports whether n was never assigned.
func (n Number) IsZero() bool { return n.digits == "" }

func fit(d string) string {
	if len(d) >= Length {
		return d[:Length]
	}
	return d + strings.Repeat("0", Length-len(d))
}

func segment(d string) [6]string {
	var out [6]string
	pos := 0
	for i, w := range widths {
		out[i] = d[pos : pos+w]
		pos += w
	}
	return out
}
