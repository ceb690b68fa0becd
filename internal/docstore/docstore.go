package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for store outcomes. Classify with errors.Is; the
// ConflictError type carries the version payload.
var (
	// ErrNotFound indicates no document exists under the given ID.
	ErrNotFound = errors.New("document not found")

	// ErrExists indicates a create collided with an existing document.
	ErrExists = errors.New("document already exists")

	// ErrVersionConflict indicates a write presented a stale expected
	// version. The returned error is a *ConflictError.
	ErrVersionConflict = errors.New("version conflict")

	// ErrPatchMismatch indicates the patch could not be applied to the
	// stored content. The document is left untouched.
	ErrPatchMismatch = errors.New("patch does not apply to stored content")

	// ErrBadPatch indicates the patch wire form could not be parsed.
	ErrBadPatch = errors.New("malformed patch")
)

// ConflictError reports an optimistic concurrency failure on write.
type ConflictError struct {
	ID              string
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, stored %d",
		e.ID, e.ExpectedVersion, e.CurrentVersion)
}

// Is makes errors.Is(err, ErrVersionConflict) match ConflictError values.
func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Document is a stored snapshot with its server-assigned version.
type Document struct {
	ID        string
	Content   string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence contract the sync service writes through.
//
// ApplyPatch is the compare-and-swap at the heart of optimistic
// concurrency: the patch lands only if expectedVersion matches the stored
// version, and the returned document carries the incremented version.
// All implementations apply patches atomically with the version check.
type Store interface {
	// Get returns the document, or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)

	// Create stores a new document at version 1. An empty id asks the
	// store to assign one. Fails with ErrExists on collision.
	Create(ctx context.Context, id, content string) (Document, error)

	// ApplyPatch applies a wire-form patch on top of expectedVersion.
	// Fails with *ConflictError when the version is stale, ErrBadPatch
	// when the patch does not parse, and ErrPatchMismatch when it does
	// not apply cleanly. The stored document is unchanged on any failure.
	ApplyPatch(ctx context.Context, id, patchText string, expectedVersion int64) (Document, error)

	// List returns all documents ordered by most recent update.
	List(ctx context.Context) ([]Document, error)

	// Delete removes the document, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Close releases the store's resources.
	Close() error
}
