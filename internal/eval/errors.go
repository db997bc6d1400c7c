package eval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/pondoc/internal/pon"
)

// ErrorCode categorizes expression runtime errors.
type ErrorCode string

const (
	// ErrCodeBadDependency indicates a dependency reference whose target
	// property does not exist.
	ErrCodeBadDependency ErrorCode = "BAD_DEPENDENCY"

	// ErrCodeUnresolvedDependency indicates a dependency reference that
	// was never attached to a concrete property.
	ErrCodeUnresolvedDependency ErrorCode = "UNRESOLVED_DEPENDENCY"

	// ErrCodeBusError wraps any other failure reading a dependency.
	ErrCodeBusError ErrorCode = "BUS_ERROR"

	// ErrCodeCallFailed wraps a failure inside a function call.
	ErrCodeCallFailed ErrorCode = "CALL_FAILED"

	// ErrCodeNoSuchFunction indicates a call to an unregistered name.
	ErrCodeNoSuchFunction ErrorCode = "NO_SUCH_FUNCTION"

	// ErrCodeRequiredFieldMissing indicates a map argument lacks a
	// required field.
	ErrCodeRequiredFieldMissing ErrorCode = "REQUIRED_FIELD_MISSING"

	// ErrCodeUnexpectedType indicates a value did not have the type its
	// schema asks for.
	ErrCodeUnexpectedType ErrorCode = "UNEXPECTED_TYPE"

	// ErrCodeInvalidEnumValue indicates a string outside an enum's options.
	ErrCodeInvalidEnumValue ErrorCode = "INVALID_ENUM_VALUE"

	// ErrCodeGeneric is raised by function bodies.
	ErrCodeGeneric ErrorCode = "GENERIC"
)

// maxCallText is how much of a failing call is quoted in CALL_FAILED messages.
const maxCallText = 50

// Error is an expression runtime error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is the text of a GENERIC error.
	Message string

	// Function is the missing function (NO_SUCH_FUNCTION).
	Function string

	// Field is the missing field (REQUIRED_FIELD_MISSING).
	Field string

	// Expected and Found describe UNEXPECTED_TYPE; Found is the
	// stringified offending value.
	Expected string
	Found    string

	// Options lists the accepted enum names (INVALID_ENUM_VALUE).
	Options []string

	// Ref is the dependency reference that failed.
	Ref pon.NamedPropRef

	// Call is the truncated text of the failing call (CALL_FAILED).
	Call string

	// Err is the nested cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeBadDependency:
		return fmt.Sprintf("Bad dependency reference %q, got the following error looking it up: %v", namedRefText(e.Ref), e.Err)
	case ErrCodeUnresolvedDependency:
		return fmt.Sprintf("Unresolved dependency reference %q", namedRefText(e.Ref))
	case ErrCodeBusError:
		return fmt.Sprintf("Bus error %q", e.Err.Error())
	case ErrCodeCallFailed:
		return fmt.Sprintf("function call %q failed with error: %v", e.Call, e.Err)
	case ErrCodeNoSuchFunction:
		return fmt.Sprintf("No such function: %s", e.Function)
	case ErrCodeRequiredFieldMissing:
		return fmt.Sprintf("Required field %q is missing", e.Field)
	case ErrCodeUnexpectedType:
		return fmt.Sprintf("Expected something of type %s, found %q.", e.Expected, e.Found)
	case ErrCodeInvalidEnumValue:
		quoted := make([]string, len(e.Options))
		for i, o := range e.Options {
			quoted[i] = fmt.Sprintf("%q", o)
		}
		return fmt.Sprintf("Expected one of [%s], found %q", strings.Join(quoted, ", "), e.Found)
	}
	return e.Message
}

// Unwrap returns the nested cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func namedRefText(r pon.NamedPropRef) string {
	return pon.Stringify(pon.Reference{Ref: r})
}

// Errorf builds a GENERIC error. Function bodies use it for their own
// failures.
func Errorf(format string, args ...any) *Error {
	return &Error{Code: ErrCodeGeneric, Message: fmt.Sprintf(format, args...)}
}

func unexpectedType(expected string, found pon.Value) *Error {
	return &Error{Code: ErrCodeUnexpectedType, Expected: expected, Found: pon.Stringify(found)}
}

func callFailed(call pon.Call, err error) *Error {
	text := []rune(pon.Stringify(call))
	p := string(text)
	if len(text) >= maxCallText {
		p = string(text[:maxCallText]) + "..."
	}
	return &Error{Code: ErrCodeCallFailed, Call: p, Err: err}
}

// Cause returns the innermost expression runtime error, looking through
// CALL_FAILED wrappers.
func Cause(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	for e.Code == ErrCodeCallFailed {
		var inner *Error
		if !errors.As(e.Err, &inner) {
			break
		}
		e = inner
	}
	return e
}

// HasCode reports whether err, or any runtime error it wraps, has code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsNoSuchFunction reports whether err involves an unknown function.
func IsNoSuchFunction(err error) bool {
	return HasCode(err, ErrCodeNoSuchFunction)
}

// IsRequiredFieldMissing reports whether err involves a missing field.
func IsRequiredFieldMissing(err error) bool {
	return HasCode(err, ErrCodeRequiredFieldMissing)
}
