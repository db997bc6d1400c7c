package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is a failure of the update loop itself, as opposed to a
// failed request, which is answered on its channel and never stops the
// loop.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Cycle is the cycle being run when the error happened.
	Cycle uint64

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStopped indicates the engine no longer accepts events.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"

	// ErrCodeJournal indicates a journal write failed.
	ErrCodeJournal RuntimeErrorCode = "JOURNAL_FAILED"

	// ErrCodeReplay indicates a journal could not be replayed.
	ErrCodeReplay RuntimeErrorCode = "REPLAY_FAILED"

	// ErrCodeNoRoot indicates the document has no root entity.
	ErrCodeNoRoot RuntimeErrorCode = "NO_ROOT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Cycle != 0 {
		msg = fmt.Sprintf("%s (cycle=%d)", msg, e.Cycle)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsStoppedError returns true if err reports a stopped engine.
func IsStoppedError(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

// IsJournalError returns true if err reports a failed journal write.
func IsJournalError(err error) bool {
	return hasCode(err, ErrCodeJournal)
}

// IsNoRootError returns true if err reports a document without root.
func IsNoRootError(err error) bool {
	return hasCode(err, ErrCodeNoRoot)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

var errStopped = &RuntimeError{Code: ErrCodeStopped, Message: "engine stopped"}
