package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/inklet/inklet/internal/patch"
	"github.com/inklet/inklet/internal/remote"
)

// saveOutcome reports one completed save attempt back to the Run loop.
type saveOutcome struct {
	token   string
	content string // the snapshot this attempt carried
	version int64  // accepted server version when err is nil
	err     error

	// Refetch results from the conflict and mismatch paths. When set,
	// the loop rebases its baseline on this truth regardless of err.
	refetched      bool
	refetchContent string
	refetchVersion int64

	conflict bool // initial send conflicted; the loop decides the retry
	retry    bool // this attempt was the rediffed retry after a conflict
}

// executeSave performs one save attempt and reports back through the
// event queue. On a version conflict it refetches authoritative server
// state and hands the outcome to the loop, which owns the single retry:
// the retry must carry the newest snapshot, and only the loop can see
// the one-slot queue. Runs in its own goroutine with a bounded deadline
// so a hung transport cannot wedge the document in Saving.
func (e *Engine) executeSave(token, content string, baseVersion int64, p patch.Patch, retry bool) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timings.SaveTimeout)
	defer cancel()

	out := &saveOutcome{token: token, content: content, retry: retry}
	defer func() {
		if !e.queue.Enqueue(event{typ: eventSaveDone, outcome: out}) {
			// Engine closed mid-flight: the request was allowed to
			// finish, its result has nowhere to go.
			e.log.Debug("save outcome dropped: engine closed", "doc", e.docID, "attempt", token)
		}
	}()

	res, err := e.transport.Save(ctx, e.docID, p, baseVersion)
	if err == nil {
		out.version = res.Version
		return
	}

	switch {
	case retry:
		// The recovery budget is one rediffed retry; any failure of the
		// retry ends the attempt. The next natural trigger rediffs from
		// the baseline the first refetch already rebased.
		out.err = fmt.Errorf("retry after conflict: %w", err)

	case errors.Is(err, remote.ErrVersionConflict):
		e.queue.Enqueue(event{typ: eventSaveProgress, token: token})
		e.log.Info("version conflict, refetching", "doc", e.docID, "attempt", token, "base_version", baseVersion)

		fres, ferr := e.transport.Fetch(ctx, e.docID)
		if ferr != nil {
			out.err = fmt.Errorf("refetch after conflict: %w", ferr)
			return
		}
		out.conflict = true
		out.refetched = true
		out.refetchContent = fres.Content
		out.refetchVersion = fres.Version

	case errors.Is(err, remote.ErrPatchMismatch):
		// Baseline drifted from server truth. Resync it; no retry here,
		// the next natural trigger rediffs from the fresh baseline.
		fres, ferr := e.transport.Fetch(ctx, e.docID)
		if ferr == nil {
			out.refetched = true
			out.refetchContent = fres.Content
			out.refetchVersion = fres.Version
		}
		out.err = err

	default:
		out.err = err
	}
}
