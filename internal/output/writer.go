// Package output writes one artifact per processed roll number under
// <prefix>/<batchID>/<roll-number>/.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// Artifact file names. Exactly one is written per roll number per run.
const (
	ExtractedFile = "extracted_data.json"
	NoRecordsFile = "no_records_found.json"
	ErrorLogFile  = "error_log.json"
)

const contentType = "application/json"

// Writer serializes results into a BlobStore.
type Writer struct {
	store  extraction.BlobStore
	prefix string
}

// NewWriter creates a Writer rooted at prefix (may be empty).
func NewWriter(store extraction.BlobStore, prefix string) *Writer {
	return &Writer{store: store, prefix: strings.Trim(prefix, "/")}
}

type noRecordsDoc struct {
	RollNumber  string    `json:"roll_number"`
	Message     string    `json:"message"`
	PageTitle   string    `json:"page_title,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

type errorDoc struct {
	RollNumber string    `json:"roll_number"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
}

// FileName picks the artifact name for an outcome.
func FileName(outcome extraction.Outcome) string {
	switch outcome {
	case extraction.OutcomeSuccess:
		return ExtractedFile
	case extraction.OutcomeNoRecords:
		return NoRecordsFile
	default:
		return ErrorLogFile
	}
}

// Path returns the object path for a result within a batch.
func (w *Writer) Path(batchID string, result extraction.Result) string {
	parts := []string{batchID, result.RollNumber, FileName(result.Outcome)}
	if w.prefix != "" {
		parts = append([]string{w.prefix}, parts...)
	}
	return path.Join(parts...)
}

// Write stores the artifact for result and returns its URI.
func (w *Writer) Write(ctx context.Context, batchID string, result extraction.Result) (string, error) {
	if w == nil || w.store == nil {
		return "", nil
	}
	if batchID == "" || result.RollNumber == "" {
		return "", fmt.Errorf("batch id and roll number are required")
	}
	var doc any
	switch result.Outcome {
	case extraction.OutcomeSuccess:
		doc = result
	case extraction.OutcomeNoRecords:
		doc = noRecordsDoc{
			RollNumber:  result.RollNumber,
			Message:     "No records found",
			PageTitle:   result.PageTitle,
			ExtractedAt: result.ExtractedAt,
		}
	default:
		doc = errorDoc{RollNumber: result.RollNumber, Error: result.Error, FailedAt: result.ExtractedAt}
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", FileName(result.Outcome), err)
	}
	uri, err := w.store.PutObject(ctx, w.Path(batchID, result), contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", FileName(result.Outcome), err)
	}
	return uri, nil
}
