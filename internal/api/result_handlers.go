package api

import (
	"encoding/csv"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/arb-appeal-extractor/internal/extraction"
	"github.com/JakeFAU/arb-appeal-extractor/internal/rollnumber"
)

const (
	defaultResultLimit = 100
	maxResultLimit     = 1000
)

var exportHeader = []string{
	"roll_number", "outcome", "extracted_at",
	"description", "municipality", "classification", "neighbourhood",
	"appeal_number", "status", "appellant_name1", "appellant_name2", "representative",
	"filing_date", "tax_date", "section", "hearing_number", "hearing_date",
	"board_order_number", "decision_number", "mailing_date", "decision",
	"reason_for_appeal", "decision_details", "error",
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultResultLimit, maxResultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.deps.Results.ListResults(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []extraction.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// getResult accepts the roll number in any spacing or dash layout and looks
// it up by its canonical key.
func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	n, err := rollnumber.Parse(chi.URLParam(r, "roll_number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.deps.Results.GetResult(r.Context(), n.Key())
	if err != nil {
		if errors.Is(err, extraction.ErrNotFound) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		s.logger.Error("get result failed", zap.String("roll_number", n.Key()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// exportResults streams every stored result as CSV, one row per appeal. A
// result without appeals still gets one row so no-record and failed lookups
// stay visible.
func (s *Server) exportResults(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	results, err := s.deps.Results.ListResults(r.Context(), 0, 0)
	if err != nil {
		s.logger.Error("export results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export results")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="arb_appeals.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		s.logger.Warn("export write failed", zap.Error(err))
		return
	}
	for _, res := range results {
		for _, row := range exportRows(res) {
			if err := cw.Write(row); err != nil {
				s.logger.Warn("export write failed", zap.Error(err))
				return
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Warn("export flush failed", zap.Error(err))
	}
}

func exportRows(res extraction.Result) [][]string {
	base := []string{
		res.RollNumber,
		string(res.Outcome),
		res.ExtractedAt.UTC().Format(time.RFC3339),
		res.Property.Description,
		res.Property.Municipality,
		res.Property.Classification,
		res.Property.Neighbourhood,
	}
	if len(res.Appeals) == 0 {
		row := append(append([]string{}, base...), make([]string, 16)...)
		return [][]string{append(row, res.Error)}
	}
	rows := make([][]string, 0, len(res.Appeals))
	for _, a := range res.Appeals {
		row := append([]string{}, base...)
		row = append(row,
			a.AppealNumber, a.Status,
			a.Appellant.Name1, a.Appellant.Name2, a.Appellant.Representative,
			a.Appellant.FilingDate, a.Appellant.TaxDate, a.Appellant.Section,
			a.Hearing.HearingNumber, a.Hearing.HearingDate, a.Hearing.BoardOrderNumber,
			a.Hearing.DecisionNumber, a.Hearing.MailingDate, a.Hearing.Decision,
			a.Reason, a.DecisionDetails,
			res.Error,
		)
		rows = append(rows, row)
	}
	return rows
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	st, err := s.deps.Results.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	body := map[string]any{"stats": st}
	if id, ok := s.deps.Batches.Running(); ok {
		body["running_batch_id"] = id
	}
	writeJSON(w, http.StatusOK, body)
}
