// Package apperr defines the error taxonomy shared across raido.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a repository object (blob, tree, index file) resolved to nothing.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a commit was rejected because its base revision is stale.
	// The caller must re-read current state and retry the whole operation.
	ErrConflict = errors.New("conflict")

	// ErrRevisionUnavailable means the branch or repository could not be resolved,
	// or the returned history was empty or malformed.
	ErrRevisionUnavailable = errors.New("revision unavailable")

	// ErrParse means an index file exists but is not valid. It is fatal for the
	// read: falling back to bootstrap would mask real corruption.
	ErrParse = errors.New("parse error")
)

// Transport wraps a network-level failure with enough detail to report it.
// Inside a per-file fetch it is recorded and skipped; everywhere else it is
// fatal to the current operation.
type Transport struct {
	Op     string // logical operation, e.g. "fetch tree", "create commit"
	Detail string // diagnostic detail suitable for a copy-to-clipboard report
	Err    error
}

func (e *Transport) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Transport) Unwrap() error { return e.Err }

// Fetch records a single file's failure during a batched fetch. It never
// aborts the batch; the pipeline counts it and moves on.
type Fetch struct {
	Path string
	Err  error
}

func (e *Fetch) Error() string { return fmt.Sprintf("fetch %s: %v", e.Path, e.Err) }

func (e *Fetch) Unwrap() error { return e.Err }
