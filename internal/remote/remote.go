// Package remote defines the transport boundary the sync engine saves
// through, and provides the HTTP client implementation of it. The engine
// treats the transport as a black box: fetch authoritative content, save a
// patch under optimistic concurrency, or fire a best-effort beacon at
// teardown.
package remote

import (
	"context"

	"github.com/inklet/inklet/internal/patch"
)

// FetchResult is the authoritative document state returned by the server.
type FetchResult struct {
	Content string
	Version int64
}

// SaveResult is the server's acknowledgement of an accepted save.
type SaveResult struct {
	Version int64
}

// Transport is the minimal contract between the engine and the backend.
//
// Save applies a patch on top of expectedVersion; a stale version yields a
// ConflictError carrying the server's current version. FlushBeacon is a
// fire-and-forget variant used only at teardown: no response is awaited and
// failures are not reported.
type Transport interface {
	Fetch(ctx context.Context, documentID string) (FetchResult, error)
	Save(ctx context.Context, documentID string, p patch.Patch, expectedVersion int64) (SaveResult, error)
	FlushBeacon(documentID string, p patch.Patch, expectedVersion int64)
}

// Creator is an optional transport capability for first-time document
// creation. The HTTP transport implements it; the engine itself only ever
// syncs documents that already exist.
type Creator interface {
	Create(ctx context.Context, documentID, content string) (FetchResult, error)
}
