package remote

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport outcomes. Use errors.Is to classify; the
// concrete types below carry the payload where one exists.
var (
	// ErrNotFound indicates the document does not exist server-side.
	ErrNotFound = errors.New("document not found")

	// ErrVersionConflict indicates the expected version was stale. The
	// returned error is a *ConflictError carrying the current version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrPatchMismatch indicates the server could not apply the patch to
	// its current content. Under the codec's round-trip law this only
	// happens when the client's baseline has drifted from server truth;
	// recovery requires a full refetch.
	ErrPatchMismatch = errors.New("patch did not apply to server content")

	// ErrAlreadyExists indicates a create collided with an existing
	// document.
	ErrAlreadyExists = errors.New("document already exists")
)

// ConflictError reports an optimistic concurrency failure.
type ConflictError struct {
	DocumentID      string
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, server at %d",
		e.DocumentID, e.ExpectedVersion, e.CurrentVersion)
}

// Is makes errors.Is(err, ErrVersionConflict) match ConflictError values.
func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// TransportError wraps network and backend failures that are not part of
// the save protocol itself. The engine retries these through its normal
// scheduling rather than specially.
type TransportError struct {
	Op         string
	DocumentID string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.DocumentID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
