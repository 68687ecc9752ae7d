// Package publisher defines the notification published after each roll
// number is processed.
package publisher

import (
	"time"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// Notice is the JSON payload announcing a stored result.
type Notice struct {
	BatchID     string             `json:"batch_id"`
	RollNumber  string             `json:"roll_number"`
	Outcome     extraction.Outcome `json:"outcome"`
	Appeals     int                `json:"appeals"`
	OutputURI   string             `json:"output_uri,omitempty"`
	Error       string             `json:"error,omitempty"`
	ExtractedAt time.Time          `json:"extracted_at"`
}

// NewNotice summarizes a result for subscribers.
func NewNotice(batchID string, result extraction.Result, outputURI string) Notice {
	return Notice{
		BatchID:     batchID,
		RollNumber:  result.RollNumber,
		Outcome:     result.Outcome,
		Appeals:     len(result.Appeals),
		OutputURI:   outputURI,
		Error:       result.Error,
		ExtractedAt: result.ExtractedAt,
	}
}

// Attributes returns message attributes subscribers can filter on.
func (n Notice) Attributes() map[string]string {
	return map[string]string{
		"batch_id":    n.BatchID,
		"roll_number": n.RollNumber,
		"outcome":     string(n.Outcome),
	}
}
