// Package site isolates everything that depends on the appeals site markup.
// Each site version is a Reader; the rest of the extractor only talks to the
// Reader interface.
package site

import (
	"fmt"
	"sort"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/interaction"
)

// Layout holds the form and indicator selectors for a site version.
type Layout struct {
	RollInputs    [6]string `mapstructure:"roll_inputs"`
	Submit        string    `mapstructure:"submit"`
	Results       string    `mapstructure:"results"`
	NoRecords     string    `mapstructure:"no_records"`
	NoRecordsText string    `mapstructure:"no_records_text"`
}

// FormSelectors adapts the layout for the interaction driver.
func (l Layout) FormSelectors() interaction.Selectors {
	return interaction.Selectors{
		RollInputs:    l.RollInputs,
		Submit:        l.Submit,
		Results:       l.Results,
		NoRecords:     l.NoRecords,
		NoRecordsText: l.NoRecordsText,
	}
}

// Merge returns l with every empty field replaced by the one from defaults.
func (l Layout) Merge(defaults Layout) Layout {
	out := defaults
	for i, s := range l.RollInputs {
		if s != "" {
			out.RollInputs[i] = s
		}
	}
	if l.Submit != "" {
		out.Submit = l.Submit
	}
	if l.Results != "" {
		out.Results = l.Results
	}
	if l.NoRecords != "" {
		out.NoRecords = l.NoRecords
	}
	if l.NoRecordsText != "" {
		out.NoRecordsText = l.NoRecordsText
	}
	return out
}

// Parsed is what a Reader pulls from a loaded results page.
type Parsed struct {
	Property extraction.PropertyInfo
	Appeals  []extraction.AppealRecord
}

// Reader reads one site version. Read must not modify doc.
type Reader interface {
	Version() string
	Layout() Layout
	Read(doc *goquery.Document) (Parsed, error)
}

// Registry resolves a configured version name to a Reader.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]Reader
}

// NewRegistry registers readers by their Version.
func NewRegistry(readers ...Reader) *Registry {
	r := &Registry{readers: make(map[string]Reader, len(readers))}
	for _, reader := range readers {
		r.Register(reader)
	}
	return r
}

// Register adds or replaces a reader.
func (r *Registry) Register(reader Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[reader.Version()] = reader
}

// Get returns the reader for version.
func (r *Registry) Get(version string) (Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reader, ok := r.readers[version]
	if !ok {
		return nil, fmt.Errorf("unknown site version %q (known: %v)", version, r.versionsLocked())
	}
	return reader, nil
}

// Versions lists registered versions in sorted order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versionsLocked()
}

func (r *Registry) versionsLocked() []string {
	out := make([]string, 0, len(r.readers))
	for v := range r.readers {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
