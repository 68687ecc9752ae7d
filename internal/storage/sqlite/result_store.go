// Package sqlite provides a zero-setup ResultStore on an embedded SQLite
// database (pure Go driver, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
)

const schema = `
CREATE TABLE IF NOT EXISTS roll_numbers (
	roll_number          TEXT PRIMARY KEY,
	extraction_status    TEXT NOT NULL DEFAULT 'pending',
	outcome              TEXT NOT NULL DEFAULT '',
	extraction_error     TEXT NOT NULL DEFAULT '',
	page_title           TEXT NOT NULL DEFAULT '',
	property_description TEXT NOT NULL DEFAULT '',
	municipality         TEXT NOT NULL DEFAULT '',
	classification       TEXT NOT NULL DEFAULT '',
	nbhd                 TEXT NOT NULL DEFAULT '',
	appeals_extracted    INTEGER NOT NULL DEFAULT 0,
	last_extracted_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS appeals (
	roll_number           TEXT NOT NULL REFERENCES roll_numbers (roll_number) ON DELETE CASCADE,
	appeal_number         TEXT NOT NULL,
	position              INTEGER NOT NULL,
	status                TEXT NOT NULL DEFAULT '',
	appellant_name1       TEXT NOT NULL DEFAULT '',
	appellant_name2       TEXT NOT NULL DEFAULT '',
	representative        TEXT NOT NULL DEFAULT '',
	filing_date           TEXT NOT NULL DEFAULT '',
	tax_date              TEXT NOT NULL DEFAULT '',
	section               TEXT NOT NULL DEFAULT '',
	hearing_number        TEXT NOT NULL DEFAULT '',
	hearing_date          TEXT NOT NULL DEFAULT '',
	board_order_number    TEXT NOT NULL DEFAULT '',
	decision_number       TEXT NOT NULL DEFAULT '',
	decision_mailing_date TEXT NOT NULL DEFAULT '',
	decisions             TEXT NOT NULL DEFAULT '',
	reason_for_appeal     TEXT NOT NULL DEFAULT '',
	decision_details      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (roll_number, position)
);
CREATE INDEX IF NOT EXISTS roll_numbers_last_extracted_idx ON roll_numbers (last_extracted_at);
`

// ResultStore persists results in a SQLite file (or ":memory:").
type ResultStore struct {
	db *sql.DB
}

// Open opens the database at dsn and creates the schema.
func Open(ctx context.Context, dsn string) (*ResultStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	if err := rekeyAppeals(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ResultStore{db: db}, nil
}

// rekeyAppeals rebuilds an appeals table created with the appeal number in
// its primary key. Appeal numbers may be blank or repeated within a result,
// so rows are keyed by their position on the page.
func rekeyAppeals(ctx context.Context, db *sql.DB) (err error) {
	var keyed int
	err = db.QueryRowContext(ctx,
		`SELECT count(*) FROM pragma_table_info('appeals') WHERE name = 'appeal_number' AND pk > 0`).Scan(&keyed)
	if err != nil {
		return fmt.Errorf("inspect appeals key: %w", err)
	}
	if keyed == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin appeals rekey: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range []string{
		`ALTER TABLE appeals RENAME TO appeals_by_number`,
		schema,
		`INSERT INTO appeals SELECT * FROM appeals_by_number`,
		`DROP TABLE appeals_by_number`,
	} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rekey appeals: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit appeals rekey: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *ResultStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertResult replaces the roll number row and its appeals in one transaction.
func (s *ResultStore) UpsertResult(ctx context.Context, result extraction.Result) (err error) {
	if result.RollNumber == "" {
		return fmt.Errorf("roll number is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin result tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	status := "completed"
	if result.Outcome == extraction.OutcomeFailed {
		status = "failed"
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO roll_numbers (
	roll_number, extraction_status, outcome, extraction_error, page_title,
	property_description, municipality, classification, nbhd,
	appeals_extracted, last_extracted_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (roll_number) DO UPDATE SET
	extraction_status = excluded.extraction_status,
	outcome = excluded.outcome,
	extraction_error = excluded.extraction_error,
	page_title = excluded.page_title,
	property_description = excluded.property_description,
	municipality = excluded.municipality,
	classification = excluded.classification,
	nbhd = excluded.nbhd,
	appeals_extracted = excluded.appeals_extracted,
	last_extracted_at = excluded.last_extracted_at`,
		result.RollNumber, status, string(result.Outcome), result.Error, result.PageTitle,
		result.Property.Description, result.Property.Municipality,
		result.Property.Classification, result.Property.Neighbourhood,
		len(result.Appeals), formatTime(result.ExtractedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert roll number: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM appeals WHERE roll_number = ?`, result.RollNumber); err != nil {
		return fmt.Errorf("clear appeals: %w", err)
	}
	for i, a := range result.Appeals {
		_, err = tx.ExecContext(ctx, `
INSERT INTO appeals (
	roll_number, appeal_number, position, status,
	appellant_name1, appellant_name2, representative, filing_date, tax_date, section,
	hearing_number, hearing_date, board_order_number, decision_number, decision_mailing_date, decisions,
	reason_for_appeal, decision_details
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			result.RollNumber, a.AppealNumber, i, a.Status,
			a.Appellant.Name1, a.Appellant.Name2, a.Appellant.Representative,
			a.Appellant.FilingDate, a.Appellant.TaxDate, a.Appellant.Section,
			a.Hearing.HearingNumber, a.Hearing.HearingDate, a.Hearing.BoardOrderNumber,
			a.Hearing.DecisionNumber, a.Hearing.MailingDate, a.Hearing.Decision,
			a.Reason, a.DecisionDetails,
		)
		if err != nil {
			return fmt.Errorf("insert appeal %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit result tx: %w", err)
	}
	return nil
}

const selectResult = `
SELECT roll_number, outcome, extraction_error, page_title,
	property_description, municipality, classification, nbhd, last_extracted_at
FROM roll_numbers`

// GetResult loads one result or returns extraction.ErrNotFound.
func (s *ResultStore) GetResult(ctx context.Context, rollNumber string) (extraction.Result, error) {
	result, err := scanResult(s.db.QueryRowContext(ctx, selectResult+` WHERE roll_number = ?`, rollNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return extraction.Result{}, extraction.ErrNotFound
		}
		return extraction.Result{}, fmt.Errorf("get result: %w", err)
	}
	if result.Appeals, err = s.appeals(ctx, rollNumber); err != nil {
		return extraction.Result{}, err
	}
	return result, nil
}

// ListResults returns results newest first. A non-positive limit returns all.
func (s *ResultStore) ListResults(ctx context.Context, limit, offset int) ([]extraction.Result, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		selectResult+` ORDER BY last_extracted_at DESC, roll_number LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	results := []extraction.Result{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	// Release the single connection before loading appeals.
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close result rows: %w", err)
	}

	for i := range results {
		if results[i].Appeals, err = s.appeals(ctx, results[i].RollNumber); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Stats aggregates stored results by outcome.
func (s *ResultStore) Stats(ctx context.Context) (extraction.Stats, error) {
	var stats extraction.Stats
	err := s.db.QueryRowContext(ctx, `
SELECT count(*),
	COALESCE(sum(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
	COALESCE(sum(CASE WHEN outcome = 'no_records_found' THEN 1 ELSE 0 END), 0),
	COALESCE(sum(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END), 0),
	COALESCE(sum(appeals_extracted), 0)
FROM roll_numbers`).Scan(&stats.RollNumbers, &stats.Succeeded, &stats.NoRecords, &stats.Failed, &stats.Appeals)
	if err != nil {
		return extraction.Stats{}, fmt.Errorf("result stats: %w", err)
	}
	return stats, nil
}

func (s *ResultStore) appeals(ctx context.Context, rollNumber string) ([]extraction.AppealRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT appeal_number, status,
	appellant_name1, appellant_name2, representative, filing_date, tax_date, section,
	hearing_number, hearing_date, board_order_number, decision_number, decision_mailing_date, decisions,
	reason_for_appeal, decision_details
FROM appeals WHERE roll_number = ? ORDER BY position`, rollNumber)
	if err != nil {
		return nil, fmt.Errorf("load appeals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []extraction.AppealRecord{}
	for rows.Next() {
		var a extraction.AppealRecord
		if err := rows.Scan(
			&a.AppealNumber, &a.Status,
			&a.Appellant.Name1, &a.Appellant.Name2, &a.Appellant.Representative,
			&a.Appellant.FilingDate, &a.Appellant.TaxDate, &a.Appellant.Section,
			&a.Hearing.HearingNumber, &a.Hearing.HearingDate, &a.Hearing.BoardOrderNumber,
			&a.Hearing.DecisionNumber, &a.Hearing.MailingDate, &a.Hearing.Decision,
			&a.Reason, &a.DecisionDetails,
		); err != nil {
			return nil, fmt.Errorf("scan appeal row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appeals: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (extraction.Result, error) {
	var (
		r         extraction.Result
		outcome   string
		extracted string
	)
	err := row.Scan(
		&r.RollNumber, &outcome, &r.Error, &r.PageTitle,
		&r.Property.Description, &r.Property.Municipality,
		&r.Property.Classification, &r.Property.Neighbourhood,
		&extracted,
	)
	if err != nil {
		return extraction.Result{}, err
	}
	r.Outcome = extraction.Outcome(outcome)
	if r.ExtractedAt, err = time.Parse(time.RFC3339Nano, extracted); err != nil {
		return extraction.Result{}, fmt.Errorf("parse last_extracted_at: %w", err)
	}
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
