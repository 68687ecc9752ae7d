// Package extraction defines core types shared across the extractor subsystems.
package extraction

import (
	"time"
)

// Outcome classifies how a single roll number lookup ended.
type Outcome string

// Outcome values persisted with each result.
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeNoRecords Outcome = "no_records_found"
	OutcomeFailed    Outcome = "failed"
)

// ItemStatus is the lifecycle state of one roll number inside a batch.
type ItemStatus string

// Item status values reported through progress updates.
const (
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// BatchState is the lifecycle state of a batch.
type BatchState string

// Batch state values.
const (
	BatchCreated   BatchState = "created"
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchCancelled BatchState = "cancelled"
	BatchFailed    BatchState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s BatchState) Terminal() bool {
	switch s {
	case BatchCompleted, BatchCancelled, BatchFailed:
		return true
	default:
		return false
	}
}

// PropertyInfo holds the property attributes shown above the appeals grid.
type PropertyInfo struct {
	Description    string `json:"description"`
	Municipality   string `json:"municipality"`
	Classification string `json:"classification"`
	Neighbourhood  string `json:"neighbourhood"`
}

// Appellant describes who filed an appeal and when.
type Appellant struct {
	Name1          string `json:"name1"`
	Name2          string `json:"name2"`
	Representative string `json:"representative"`
	FilingDate     string `json:"filing_date"`
	TaxDate        string `json:"tax_date"`
	Section        string `json:"section"`
}

// Hearing captures the hearing and decision block of an appeal.
type Hearing struct {
	HearingNumber    string `json:"hearing_number"`
	HearingDate      string `json:"hearing_date"`
	BoardOrderNumber string `json:"board_order_number"`
	DecisionNumber   string `json:"decision_number"`
	MailingDate      string `json:"mailing_date"`
	Decision         string `json:"decision"`
}

// AppealRecord is one row of the appeals grid. AppealNumber is unique within
// a Result.
type AppealRecord struct {
	AppealNumber    string    `json:"appeal_number"`
	Status          string    `json:"status"`
	Appellant       Appellant `json:"appellant"`
	Hearing         Hearing   `json:"hearing"`
	Reason          string    `json:"reason_for_appeal"`
	DecisionDetails string    `json:"decision_details"`
}

// Result is the normalized output of one roll number lookup.
type Result struct {
	RollNumber  string         `json:"roll_number"`
	ExtractedAt time.Time      `json:"extracted_at"`
	Outcome     Outcome        `json:"outcome"`
	PageTitle   string         `json:"page_title,omitempty"`
	Property    PropertyInfo   `json:"property"`
	Appeals     []AppealRecord `json:"appeals"`
	Error       string         `json:"error,omitempty"`
}

// FailedResult builds the Result recorded when a lookup fails.
func FailedResult(rollNumber string, at time.Time, err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		RollNumber:  rollNumber,
		ExtractedAt: at,
		Outcome:     OutcomeFailed,
		Appeals:     []AppealRecord{},
		Error:       msg,
	}
}

// Item tracks one roll number inside a batch.
type Item struct {
	RollNumber string     `json:"roll_number"`
	Status     ItemStatus `json:"status"`
	Outcome    Outcome    `json:"outcome,omitempty"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	Appeals    int        `json:"appeals"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Failure pairs a failed roll number with its error detail.
type Failure struct {
	RollNumber string `json:"roll_number"`
	Error      string `json:"error"`
}

// Summary aggregates item outcomes for a batch.
type Summary struct {
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	NoRecords int       `json:"no_records_found"`
	Failed    int       `json:"failed"`
	Pending   int       `json:"pending"`
	Failures  []Failure `json:"failures"`
}

// Batch is an ordered collection of roll numbers processed by one session.
type Batch struct {
	ID        string     `json:"id"`
	State     BatchState `json:"state"`
	Items     []Item     `json:"items"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	Message   string     `json:"message,omitempty"`
	Error     string     `json:"error,omitempty"`
	Summary   Summary    `json:"summary"`
}

// NewBatch creates a batch in the created state with every item queued.
func NewBatch(id string, rollNumbers []string, submitted time.Time) Batch {
	items := make([]Item, len(rollNumbers))
	for i, rn := range rollNumbers {
		items[i] = Item{RollNumber: rn, Status: ItemQueued}
	}
	b := Batch{
		ID:        id,
		State:     BatchCreated,
		Items:     items,
		Submitted: submitted,
	}
	b.Summary = Summarize(items)
	return b
}

// Clone returns a deep copy safe to hand to readers.
func (b Batch) Clone() Batch {
	cp := b
	cp.Items = append([]Item(nil), b.Items...)
	cp.Summary.Failures = append([]Failure(nil), b.Summary.Failures...)
	cp.Started = cloneTime(b.Started)
	cp.Finished = cloneTime(b.Finished)
	for i := range cp.Items {
		cp.Items[i].StartedAt = cloneTime(b.Items[i].StartedAt)
		cp.Items[i].FinishedAt = cloneTime(b.Items[i].FinishedAt)
	}
	return cp
}

// Summarize counts item outcomes. Completed items count as succeeded or
// no-records depending on their outcome; queued and processing items count as
// pending.
func Summarize(items []Item) Summary {
	s := Summary{Total: len(items), Failures: []Failure{}}
	for _, item := range items {
		switch item.Status {
		case ItemCompleted:
			if item.Outcome == OutcomeNoRecords {
				s.NoRecords++
			} else {
				s.Succeeded++
			}
		case ItemFailed:
			s.Failed++
			s.Failures = append(s.Failures, Failure{RollNumber: item.RollNumber, Error: item.Error})
		default:
			s.Pending++
		}
	}
	return s
}

// ProgressUpdate is a single progress notification. Item-level updates carry
// a RollNumber; batch-level updates leave it empty and set BatchState.
type ProgressUpdate struct {
	BatchID    string
	RollNumber string
	ItemStatus ItemStatus
	BatchState BatchState
	Outcome    Outcome
	Appeals    int
	Message    string
	Duration   time.Duration
	At         time.Time
}

// Stats aggregates persisted results for dashboards.
type Stats struct {
	RollNumbers int `json:"roll_numbers"`
	Succeeded   int `json:"succeeded"`
	NoRecords   int `json:"no_records_found"`
	Failed      int `json:"failed"`
	Appeals     int `json:"appeals"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
