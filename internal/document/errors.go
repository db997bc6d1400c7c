package document

import (
	"errors"
	"fmt"

	"github.com/roach88/pondoc/internal/pon"
)

// ErrorCode categorizes document errors.
type ErrorCode string

const (
	// ErrCodeNoSuchEntity indicates an id that is not in the tree.
	ErrCodeNoSuchEntity ErrorCode = "NO_SUCH_ENTITY"

	// ErrCodeNoSuchProperty indicates a read of a property never set.
	ErrCodeNoSuchProperty ErrorCode = "NO_SUCH_PROPERTY"

	// ErrCodeInvalidParent indicates an append under a missing parent.
	ErrCodeInvalidParent ErrorCode = "INVALID_PARENT"

	// ErrCodeEntityExists indicates an append with an id already in use.
	ErrCodeEntityExists ErrorCode = "ENTITY_EXISTS"

	// ErrCodeInvalidID indicates an explicit id that was neither reserved
	// nor above every id handed out so far.
	ErrCodeInvalidID ErrorCode = "INVALID_ID"

	// ErrCodeIDOverflow indicates the id space is exhausted.
	ErrCodeIDOverflow ErrorCode = "ID_OVERFLOW"

	// ErrCodeCantFindEntityByName indicates a name lookup miss.
	ErrCodeCantFindEntityByName ErrorCode = "CANT_FIND_ENTITY_BY_NAME"

	// ErrCodeBusError wraps a bus or expression runtime failure.
	ErrCodeBusError ErrorCode = "BUS_ERROR"

	// ErrCodeParseError indicates unreadable document or expression text.
	ErrCodeParseError ErrorCode = "PARSE_ERROR"
)

// Error is returned by document operations.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Entity is the entity the error is about, if any.
	Entity pon.EntityID

	// Property is the property key, if any.
	Property string

	// Message carries extra detail, e.g. the name that was looked up.
	Message string

	// Err is the nested cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNoSuchEntity:
		if e.Err != nil {
			return fmt.Sprintf("no such entity: %v", e.Err)
		}
		return fmt.Sprintf("no such entity: #%d", e.Entity)
	case ErrCodeNoSuchProperty:
		return fmt.Sprintf("no such property: %s", pon.NewPropRef(e.Entity, e.Property))
	case ErrCodeInvalidParent:
		return fmt.Sprintf("invalid parent: #%d", e.Entity)
	case ErrCodeEntityExists:
		return fmt.Sprintf("entity already exists: #%d", e.Entity)
	case ErrCodeInvalidID:
		return fmt.Sprintf("invalid entity id: #%d was not reserved", e.Entity)
	case ErrCodeIDOverflow:
		return fmt.Sprintf("entity id overflow: %s", e.Message)
	case ErrCodeCantFindEntityByName:
		return fmt.Sprintf("can't find entity by name: %q", e.Message)
	case ErrCodeBusError:
		return fmt.Sprintf("bus error: %v", e.Err)
	case ErrCodeParseError:
		if e.Message != "" {
			return fmt.Sprintf("parse error in %s: %v", e.Message, e.Err)
		}
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

// Unwrap returns the nested cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func noSuchEntity(id pon.EntityID) *Error {
	return &Error{Code: ErrCodeNoSuchEntity, Entity: id}
}

// Code returns the document error code carried by err, or "" when err
// is not a document error.
func Code(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsNoSuchEntity reports whether err is a NO_SUCH_ENTITY error.
// Uses errors.As to handle wrapped errors.
func IsNoSuchEntity(err error) bool {
	return Code(err) == ErrCodeNoSuchEntity
}

// IsNoSuchProperty reports whether err is a NO_SUCH_PROPERTY error.
func IsNoSuchProperty(err error) bool {
	return Code(err) == ErrCodeNoSuchProperty
}
