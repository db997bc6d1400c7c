package bus

import (
	"errors"
	"fmt"

	"github.com/roach88/pondoc/internal/pon"
)

// ErrorCode categorizes bus errors.
type ErrorCode string

const (
	// ErrCodeNoSuchEntry indicates a read of a key that was never set.
	ErrCodeNoSuchEntry ErrorCode = "NO_SUCH_ENTRY"

	// ErrCodeWrongType indicates a typed read found another value type.
	ErrCodeWrongType ErrorCode = "WRONG_TYPE"

	// ErrCodeEvaluationFailed wraps an expression runtime failure.
	ErrCodeEvaluationFailed ErrorCode = "EVALUATION_FAILED"

	// ErrCodeCyclicDependency indicates a set whose dependencies would
	// close a cycle in the dependency graph.
	ErrCodeCyclicDependency ErrorCode = "CYCLIC_DEPENDENCY"

	// ErrCodeCyclicEvaluation indicates a key was read while it was
	// already being evaluated, or evaluation nested too deep.
	ErrCodeCyclicEvaluation ErrorCode = "CYCLIC_EVALUATION"
)

// Error is returned by bus reads and writes.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Key is the entry the error is about.
	Key pon.PropRef

	// Expected and Found are type names (WRONG_TYPE only).
	Expected string
	Found    string

	// FoundValue is the stringified value that had the wrong type.
	FoundValue string

	// Err is the nested cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNoSuchEntry:
		return fmt.Sprintf("no such entry: %s", e.Key)
	case ErrCodeWrongType:
		return fmt.Sprintf("wrong type for %s: expected %s, found %s (%s)", e.Key, e.Expected, e.Found, e.FoundValue)
	case ErrCodeEvaluationFailed:
		return fmt.Sprintf("failed to evaluate %s: %v", e.Key, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Key)
}

// Unwrap returns the nested cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsNoSuchEntry reports whether err is a NO_SUCH_ENTRY bus error.
// Uses errors.As to handle wrapped errors.
func IsNoSuchEntry(err error) bool {
	return hasCode(err, ErrCodeNoSuchEntry)
}

// IsWrongType reports whether err is a WRONG_TYPE bus error.
func IsWrongType(err error) bool {
	return hasCode(err, ErrCodeWrongType)
}

// IsCyclic reports whether err is either cycle error.
func IsCyclic(err error) bool {
	return hasCode(err, ErrCodeCyclicDependency) || hasCode(err, ErrCodeCyclicEvaluation)
}
