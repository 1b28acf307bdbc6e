package op

import (
	"errors"
	"fmt"
)

// Error is the typed error returned across the engine.
//
// Codes:
//   - MALFORMED_INPUT: a payload failed to decode; nothing was applied
//   - ILLEGAL_STATE: a transaction was used outside its lifecycle
//   - UNSUPPORTED: merge/inverse asked to combine kinds with no defined rule
//   - MERGE_FAILED: replaying updates into a scratch document failed
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeMalformed indicates a truncated or invalid wire payload.
	ErrCodeMalformed ErrorCode = "MALFORMED_INPUT"

	// ErrCodeIllegalState indicates an invalid transaction state transition.
	ErrCodeIllegalState ErrorCode = "ILLEGAL_STATE"

	// ErrCodeUnsupported indicates an operation combination with no rule.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"

	// ErrCodeMergeFailed indicates a merge attempt failed during replay.
	ErrCodeMergeFailed ErrorCode = "MERGE_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsMalformed reports whether err is a malformed-input error.
func IsMalformed(err error) bool { return hasCode(err, ErrCodeMalformed) }

// IsIllegalState reports whether err is an illegal state transition.
func IsIllegalState(err error) bool { return hasCode(err, ErrCodeIllegalState) }

// IsUnsupported reports whether err is an unsupported-combination error.
func IsUnsupported(err error) bool { return hasCode(err, ErrCodeUnsupported) }

// IsMergeFailure reports whether err is a merge failure.
func IsMergeFailure(err error) bool { return hasCode(err, ErrCodeMergeFailed) }

// Malformed creates a MALFORMED_INPUT error.
func Malformed(format string, args ...any) *Error {
	return &Error{Code: ErrCodeMalformed, Message: fmt.Sprintf(format, args...)}
}

// IllegalState creates an ILLEGAL_STATE error.
func IllegalState(format string, args ...any) *Error {
	return &Error{Code: ErrCodeIllegalState, Message: fmt.Sprintf(format, args...)}
}

// Unsupported creates an UNSUPPORTED error naming the kinds involved.
func Unsupported(action string, kinds ...Kind) *Error {
	details := make(map[string]string, len(kinds))
	for i, k := range kinds {
		details[fmt.Sprintf("kind%d", i)] = k.String()
	}
	return &Error{
		Code:    ErrCodeUnsupported,
		Message: fmt.Sprintf("%s not supported for %v", action, kinds),
		Details: details,
	}
}

// MergeFailed wraps cause as a MERGE_FAILED error.
func MergeFailed(message string, cause error) *Error {
	return &Error{Code: ErrCodeMergeFailed, Message: message, Err: cause}
}
