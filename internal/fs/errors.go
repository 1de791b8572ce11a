// Package fs exposes the issue tree over FUSE: a flat set of query
// folders under the mount root, each holding a config.yaml and one
// synthetic text file per matched issue.
//
// This file contains error types and error handling utilities.
package fs

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"issuefs/internal/logging"
	"issuefs/internal/query"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrNotFound indicates the name does not exist in the tree
	ErrNotFound = errors.New("no such entry")

	// ErrReadOnly indicates attempt to modify a synthetic issue file
	ErrReadOnly = errors.New("entry is read-only")

	// ErrAlreadyExists indicates the folder name is already taken
	ErrAlreadyExists = errors.New("folder already exists")

	// ErrNotSupported indicates an operation the tree does not allow
	ErrNotSupported = errors.New("operation not supported")
)

// Error wraps filesystem errors with the operation and affected path.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "readdir")
	Path string // Affected path
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewFSError creates a new Error with the given operation, path, and
// underlying error.
func NewFSError(op string, path string, err error) *Error {
	return &Error{Op: op, Path: path, Err: err}
}

// ToFuseError translates internal errors into the syscall errors FUSE
// expects.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, query.ErrFolderNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrReadOnly):
		return syscall.EPERM
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, query.ErrFolderExists):
		return syscall.EEXIST
	case errors.Is(err, ErrNotSupported):
		return syscall.EPERM
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}

// Common operation names for consistent logging and error reporting
const (
	OpLookup  = "lookup"
	OpReadDir = "readdir"
	OpOpen    = "open"
	OpMkdir   = "mkdir"
	OpRemove  = "remove"
	OpRename  = "rename"
	OpWrite   = "write"
	OpFlush   = "flush"
)
