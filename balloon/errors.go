package balloon

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a failure kind. Each code is itself an error so callers
// can match it with errors.Is.
type ErrorCode string

const (
	// ErrDuplicateType is returned when a type ID is registered twice with different descriptors.
	ErrDuplicateType ErrorCode = "DUPLICATE_TYPE"
	// ErrUnknownType is returned when a type ID is not registered.
	ErrUnknownType ErrorCode = "UNKNOWN_TYPE"
	// ErrNoNamedVariant is returned when a base type has no named variant.
	ErrNoNamedVariant ErrorCode = "NO_NAMED_VARIANT"
	// ErrInvalidIdentifier is returned for empty identifiers or identifiers containing ':'.
	ErrInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"
	// ErrCyclicReference is returned when an anonymous struct graph contains a cycle.
	ErrCyclicReference ErrorCode = "CYCLIC_REFERENCE"
	// ErrNotNamed is returned when a top-level deflate target is not a named struct.
	ErrNotNamed ErrorCode = "NOT_NAMED"
	// ErrTypeMismatch is returned when a value does not match its declared field type.
	ErrTypeMismatch ErrorCode = "TYPE_MISMATCH"
	// ErrDanglingReference is returned when a reference token names a missing instance.
	ErrDanglingReference ErrorCode = "DANGLING_REFERENCE"
	// ErrMalformedKey is returned when a mapping key cannot be decoded back to a struct.
	ErrMalformedKey ErrorCode = "MALFORMED_KEY"
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField ErrorCode = "MISSING_FIELD"
	// ErrUnexpectedField is returned in strict mode for fields not in the schema.
	ErrUnexpectedField ErrorCode = "UNEXPECTED_FIELD"
	// ErrConstruction is returned when a type constructor rejects its values.
	ErrConstruction ErrorCode = "CONSTRUCTION"
	// ErrResolutionCycle is returned when resolving a reference requires itself.
	ErrResolutionCycle ErrorCode = "RESOLUTION_CYCLE"
	// ErrDuplicateName is returned when storing an existing name in no-overwrite mode.
	ErrDuplicateName ErrorCode = "DUPLICATE_NAME"
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrUnresolvedType is returned when no partition serves a referenced type.
	ErrUnresolvedType ErrorCode = "UNRESOLVED_TYPE"

	// ErrFrozen is returned when registering into a frozen registry.
	ErrFrozen ErrorCode = "FROZEN"
	// ErrReferenced is returned when deleting a document other documents still reference.
	ErrReferenced ErrorCode = "REFERENCED"
)

func (c ErrorCode) Error() string {
	return string(c)
}

// Error is a failure with a code, a message and optional details.
type Error struct {
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewError creates a new Error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{code: code, message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the code and the wrapped error if any.
func (e *Error) Unwrap() []error {
	if e.wrappedErr != nil {
		return []error{e.code, e.wrappedErr}
	}
	return []error{e.code}
}

// CodeOf returns the code of the outermost Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	var c ErrorCode
	if errors.As(err, &c) {
		return c
	}
	return ""
}

// pathError creates an Error located at a field path.
func pathError(code ErrorCode, path string, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if path == "" {
		return NewError(code, msg)
	}
	return NewError(code, path+": "+msg).WithDetail("path", path)
}
