package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned at a checkpoint once the cancel token is set.
	ErrCancelled = errors.New("extraction cancelled")
	// ErrBusy signals that another batch is already in flight.
	ErrBusy = errors.New("a batch is already running")
	// ErrNoValidIdentifiers signals a submission with nothing to process.
	ErrNoValidIdentifiers = errors.New("no valid roll numbers found")
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// ValidationError reports a roll number that failed validation.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid roll number %q: %s", e.Input, e.Reason)
}

// SessionErrorKind distinguishes browser session failures.
type SessionErrorKind string

// Session error kinds.
const (
	SessionLaunchFailed     SessionErrorKind = "launch_failed"
	SessionNavigationFailed SessionErrorKind = "navigation_failed"
)

// SessionError is fatal to a batch: the browser is unusable.
type SessionError struct {
	Kind SessionErrorKind
	Err  error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("browser session %s", e.Kind)
	}
	return fmt.Sprintf("browser session %s: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// SubmissionErrorKind distinguishes search submission failures.
type SubmissionErrorKind string

// Submission error kinds.
const (
	SubmissionTimeout     SubmissionErrorKind = "timeout"
	SubmissionSiteError   SubmissionErrorKind = "site_error"
	SubmissionInteraction SubmissionErrorKind = "interaction_failed"
)

// SubmissionError reports a failed form interaction for a single roll number.
type SubmissionError struct {
	Kind    SubmissionErrorKind
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("search submission %s", e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ExtractionError reports a results page whose shape could not be parsed.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return "extract results: " + e.Reason
	}
	return fmt.Sprintf("extract results: %s: %v", e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsSessionError reports whether err carries a SessionError.
func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}
