package tracker

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorCode classifies tracker failures.
type ErrorCode string

const (
	CodeAuth      ErrorCode = "auth"
	CodeRateLimit ErrorCode = "rate_limit"
	CodeBadQuery  ErrorCode = "bad_query"
	CodeNetwork   ErrorCode = "network"
	CodeUnknown   ErrorCode = "unknown"
)

// Error is the failure type surfaced by all Client operations.
type Error struct {
	Kind Kind
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a tracker failure of the given code.
func NewError(kind Kind, code ErrorCode, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// Errorf creates a tracker failure from a format string.
func Errorf(kind Kind, code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Err: pkgerrors.Errorf(format, args...)}
}

// CodeOf extracts the error code from err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var terr *Error
	if pkgerrors.As(err, &terr) {
		return terr.Code
	}
	return CodeUnknown
}
