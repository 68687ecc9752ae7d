package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

// ResultStore keeps the latest result per roll number.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]extraction.Result
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]extraction.Result)}
}

// UpsertResult replaces any previous result for the same roll number.
func (s *ResultStore) UpsertResult(_ context.Context, result extraction.Result) error {
	if result.RollNumber == "" {
		return fmt.Errorf("roll number is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.RollNumber] = cloneResult(result)
	return nil
}

// GetResult returns the stored result or extraction.ErrNotFound.
func (s *ResultStore) GetResult(_ context.Context, rollNumber string) (extraction.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[rollNumber]
	if !ok {
		return extraction.Result{}, extraction.ErrNotFound
	}
	return cloneResult(result), nil
}

// ListResults returns results newest first. A non-positive limit returns all.
func (s *ResultStore) ListResults(_ context.Context, limit, offset int) ([]extraction.Result, error) {
	s.mu.RLock()
	out := make([]extraction.Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, cloneResult(r))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExtractedAt.Equal(out[j].ExtractedAt) {
			return out[i].ExtractedAt.After(out[j].ExtractedAt)
		}
		return out[i].RollNumber < out[j].RollNumber
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []extraction.Result{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Stats aggregates stored results by outcome.
func (s *ResultStore) Stats(context.Context) (extraction.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats extraction.Stats
	for _, r := range s.results {
		stats.RollNumbers++
		stats.Appeals += len(r.Appeals)
		switch r.Outcome {
		case extraction.OutcomeSuccess:
			stats.Succeeded++
		case extraction.OutcomeNoRecords:
			stats.NoRecords++
		default:
			stats.Failed++
		}
	}
	return stats, nil
}

func cloneResult(r extraction.Result) extraction.Result {
	cp := r
	cp.Appeals = append([]extraction.AppealRecord{}, r.Appeals...)
	return cp
}
