package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

const (
	upsertRollNumberSQL = `
INSERT INTO roll_numbers (
	roll_number, extraction_status, outcome, extraction_error, page_title,
	property_description, municipality, classification, nbhd,
	appeals_extracted, last_extracted_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
ON CONFLICT (roll_number) DO UPDATE SET
	extraction_status = EXCLUDED.extraction_status,
	outcome = EXCLUDED.outcome,
	extraction_error = EXCLUDED.extraction_error,
	page_title = EXCLUDED.page_title,
	property_description = EXCLUDED.property_description,
	municipality = EXCLUDED.municipality,
	classification = EXCLUDED.classification,
	nbhd = EXCLUDED.nbhd,
	appeals_extracted = EXCLUDED.appeals_extracted,
	last_extracted_at = EXCLUDED.last_extracted_at,
	updated_at = EXCLUDED.updated_at`

	deleteAppealsSQL = `DELETE FROM appeals WHERE roll_number = $1`

	insertAppealSQL = `
INSERT INTO appeals (
	roll_number, appeal_number, position, status,
	appellant_name1, appellant_name2, representative, filing_date, tax_date, section,
	hearing_number, hearing_date, board_order_number, decision_number, decision_mailing_date, decisions,
	reason_for_appeal, decision_details, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

	selectRollNumberColumns = `
SELECT roll_number, outcome, extraction_error, page_title,
	property_description, municipality, classification, nbhd,
	COALESCE(last_extracted_at, updated_at)
FROM roll_numbers`

	selectAppealColumns = `
SELECT roll_number, appeal_number, status,
	appellant_name1, appellant_name2, representative, filing_date, tax_date, section,
	hearing_number, hearing_date, board_order_number, decision_number, decision_mailing_date, decisions,
	reason_for_appeal, decision_details
FROM appeals`

	statsSQL = `
SELECT count(*),
	count(*) FILTER (WHERE outcome = 'success'),
	count(*) FILTER (WHERE outcome = 'no_records_found'),
	count(*) FILTER (WHERE outcome = 'failed'),
	COALESCE(sum(appeals_extracted), 0)
FROM roll_numbers`
)

// ResultStore persists extraction results in the roll_numbers and appeals
// tables. A result replaces the previous one for the same roll number.
type ResultStore struct {
	db DB
}

// NewResultStore wraps an open pool (or pgxmock in tests).
func NewResultStore(db DB) (*ResultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ResultStore{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// UpsertResult writes the roll number row and replaces its appeals in one
// transaction. Appeals are stored in page order, keyed by position.
func (s *ResultStore) UpsertResult(ctx context.Context, result extraction.Result) (err error) {
	if result.RollNumber == "" {
		return fmt.Errorf("roll number is required")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin result tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, upsertRollNumberSQL,
		result.RollNumber,
		RollStatus(result.Outcome),
		string(result.Outcome),
		result.Error,
		result.PageTitle,
		result.Property.Description,
		result.Property.Municipality,
		result.Property.Classification,
		result.Property.Neighbourhood,
		len(result.Appeals),
		result.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert roll number: %w", err)
	}

	if _, err = tx.Exec(ctx, deleteAppealsSQL, result.RollNumber); err != nil {
		return fmt.Errorf("clear appeals: %w", err)
	}

	for i, a := range result.Appeals {
		_, err = tx.Exec(ctx, insertAppealSQL,
			result.RollNumber,
			a.AppealNumber,
			i,
			a.Status,
			a.Appellant.Name1,
			a.Appellant.Name2,
			a.Appellant.Representative,
			a.Appellant.FilingDate,
			a.Appellant.TaxDate,
			a.Appellant.Section,
			a.Hearing.HearingNumber,
			a.Hearing.HearingDate,
			a.Hearing.BoardOrderNumber,
			a.Hearing.DecisionNumber,
			a.Hearing.MailingDate,
			a.Hearing.Decision,
			a.Reason,
			a.DecisionDetails,
			result.ExtractedAt,
		)
		if err != nil {
			return fmt.Errorf("insert appeal %d: %w", i, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit result tx: %w", err)
	}
	return nil
}

// GetResult loads one result or returns extraction.ErrNotFound.
func (s *ResultStore) GetResult(ctx context.Context, rollNumber string) (extraction.Result, error) {
	row := s.db.QueryRow(ctx, selectRollNumberColumns+` WHERE roll_number = $1`, rollNumber)
	result, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return extraction.Result{}, extraction.ErrNotFound
		}
		return extraction.Result{}, fmt.Errorf("get result: %w", err)
	}
	appeals, err := s.loadAppeals(ctx, []string{rollNumber})
	if err != nil {
		return extraction.Result{}, err
	}
	result.Appeals = appealsOrEmpty(appeals[rollNumber])
	return result, nil
}

// ListResults returns results newest first. A non-positive limit returns all.
func (s *ResultStore) ListResults(ctx context.Context, limit, offset int) ([]extraction.Result, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx,
		selectRollNumberColumns+` ORDER BY last_extracted_at DESC NULLS LAST, roll_number LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	results := []extraction.Result{}
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	if len(results) == 0 {
		return results, nil
	}

	keys := make([]string, len(results))
	for i, r := range results {
		keys[i] = r.RollNumber
	}
	appeals, err := s.loadAppeals(ctx, keys)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Appeals = appealsOrEmpty(appeals[results[i].RollNumber])
	}
	return results, nil
}

// Stats aggregates stored results by outcome.
func (s *ResultStore) Stats(ctx context.Context) (extraction.Stats, error) {
	var stats extraction.Stats
	err := s.db.QueryRow(ctx, statsSQL).Scan(
		&stats.RollNumbers,
		&stats.Succeeded,
		&stats.NoRecords,
		&stats.Failed,
		&stats.Appeals,
	)
	if err != nil {
		return extraction.Stats{}, fmt.Errorf("result stats: %w", err)
	}
	return stats, nil
}

func (s *ResultStore) loadAppeals(ctx context.Context, rollNumbers []string) (map[string][]extraction.AppealRecord, error) {
	rows, err := s.db.Query(ctx,
		selectAppealColumns+` WHERE roll_number = ANY($1) ORDER BY roll_number, position`,
		rollNumbers)
	if err != nil {
		return nil, fmt.Errorf("load appeals: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]extraction.AppealRecord, len(rollNumbers))
	for rows.Next() {
		var (
			rollNumber string
			a          extraction.AppealRecord
		)
		err := rows.Scan(
			&rollNumber,
			&a.AppealNumber,
			&a.Status,
			&a.Appellant.Name1,
			&a.Appellant.Name2,
			&a.Appellant.Representative,
			&a.Appellant.FilingDate,
			&a.Appellant.TaxDate,
			&a.Appellant.Section,
			&a.Hearing.HearingNumber,
			&a.Hearing.HearingDate,
			&a.Hearing.BoardOrderNumber,
			&a.Hearing.DecisionNumber,
			&a.Hearing.MailingDate,
			&a.Hearing.Decision,
			&a.Reason,
			&a.DecisionDetails,
		)
		if err != nil {
			return nil, fmt.Errorf("scan appeal row: %w", err)
		}
		out[rollNumber] = append(out[rollNumber], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appeals: %w", err)
	}
	return out, nil
}

func scanResult(row pgx.Row) (extraction.Result, error) {
	var (
		r       extraction.Result
		outcome string
	)
	err := row.Scan(
		&r.RollNumber,
		&outcome,
		&r.Error,
		&r.PageTitle,
		&r.Property.Description,
		&r.Property.Municipality,
		&r.Property.Classification,
		&r.Property.Neighbourhood,
		&r.ExtractedAt,
	)
	if err != nil {
		return extraction.Result{}, err
	}
	r.Outcome = extraction.Outcome(outcome)
	return r, nil
}

func appealsOrEmpty(in []extraction.AppealRecord) []extraction.AppealRecord {
	if in == nil {
		return []extraction.AppealRecord{}
	}
	return in
}

// RollStatus maps an outcome onto the roll_numbers.extraction_status column.
func RollStatus(outcome extraction.Outcome) string {
	if outcome == extraction.OutcomeFailed {
		return "failed"
	}
	return "completed"
}
