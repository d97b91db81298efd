package models

import (
	"errors"
	"fmt"
)

// FailureKind classifies run failures so orchestrators can map them to
// recovery actions.
type FailureKind string

// Failure kinds.
const (
	// TransientIOFailure covers retryable conditions: network errors,
	// temporary locks, unreachable collaborators.
	TransientIOFailure FailureKind = "transient_io_failure"
	// IntegrityFailure marks a checksum or authentication mismatch.
	// Fatal, never auto-retried.
	IntegrityFailure FailureKind = "integrity_failure"
	// MissingCredential marks an absent encryption key or database
	// password. Fails fast before touching data.
	MissingCredential FailureKind = "missing_credential"
	// NotFound means no backup matches the selector.
	NotFound FailureKind = "not_found"
	// PartialRunFailure means one or more backup domains failed while
	// others succeeded.
	PartialRunFailure FailureKind = "partial_run_failure"
	// DestructiveStepFailure marks a database apply failure after
	// drop/recreate. Requires manual recovery.
	DestructiveStepFailure FailureKind = "destructive_step_failure"
)

// StepError wraps a failure with the step it occurred in and its kind.
type StepError struct {
	Step string
	Kind FailureKind
	Err  error
}

// NewStepError builds a StepError.
func NewStepError(step string, kind FailureKind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, or TransientIOFailure
// when err carries none.
func KindOf(err error) FailureKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return TransientIOFailure
}
