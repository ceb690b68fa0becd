package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inklet/inklet/internal/docstore"
	"github.com/inklet/inklet/internal/patch"
	"github.com/inklet/inklet/internal/remote"
)

// Call records one operation crossing the transport boundary, in start
// order. Result fields are filled in when the operation completes.
type Call struct {
	Seq     int
	At      time.Time
	Op      string // "fetch", "save", "beacon", "server"
	DocID   string
	Patch   string // wire form, save/beacon/server only
	Base    int64  // expected version, save/beacon/server only
	Result  string // "ok", "conflict", "not_found", "mismatch", "error"
	Content string // post-apply content when Result is "ok"
	Version int64  // server version after the operation when Result is "ok"
	Err     string
}

// ScriptedTransport implements the engine's transport boundary against an
// in-memory document store, with the failure and timing controls the
// engine tests and the conformance harness need: injected fetch/save
// errors, held saves that complete only when released, out-of-band server
// edits to force genuine version conflicts, and a full call log.
//
// Safe for concurrent use; the engine's save goroutine and the test body
// drive it from different goroutines by design.
type ScriptedTransport struct {
	store *docstore.Memory
	codec *patch.Codec

	mu        sync.Mutex
	now       func() time.Time
	calls     []Call
	failFetch []error
	failSave  []error
	holding   bool
	held      []chan struct{}
	started   int
	completed int
}

// NewScriptedTransport returns a transport over an empty document store,
// timestamping calls with the real clock until SetClock replaces it.
func NewScriptedTransport() *ScriptedTransport {
	return &ScriptedTransport{
		store: docstore.NewMemory(),
		codec: patch.NewCodec(),
		now:   time.Now,
	}
}

// SetClock timestamps the call log from the given clock; pass the same
// FakeClock the engine runs on for stable trace times.
func (st *ScriptedTransport) SetClock(c interface{ Now() time.Time }) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.now = c.Now
}

// Seed creates a document server-side and returns it at version 1.
func (st *ScriptedTransport) Seed(id, content string) (docstore.Document, error) {
	return st.store.Create(context.Background(), id, content)
}

// ServerState returns the stored document, bypassing the call log.
func (st *ScriptedTransport) ServerState(id string) (docstore.Document, error) {
	return st.store.Get(context.Background(), id)
}

// ServerEdit applies a concurrent writer's change directly to the store,
// bumping the server version so the client's next save genuinely
// conflicts. Recorded in the call log under op "server".
func (st *ScriptedTransport) ServerEdit(id, content string) (docstore.Document, error) {
	cur, err := st.store.Get(context.Background(), id)
	if err != nil {
		return docstore.Document{}, err
	}
	p := st.codec.Diff(cur.Content, content)

	idx := st.begin("server", id, p.Text(), cur.Version)
	doc, err := st.store.ApplyPatch(context.Background(), id, p.Text(), cur.Version)
	if err != nil {
		st.finish(idx, resultFor(err), docstore.Document{}, err)
		return docstore.Document{}, err
	}
	st.finish(idx, "ok", doc, nil)
	return doc, nil
}

// FailNextFetch queues an error returned by the next Fetch in place of
// touching the store. Multiple queued failures apply in order.
func (st *ScriptedTransport) FailNextFetch(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failFetch = append(st.failFetch, err)
}

// FailNextSave queues an error returned by the next Save (after any hold
// is released) in place of touching the store.
func (st *ScriptedTransport) FailNextSave(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.failSave = append(st.failSave, err)
}

// HoldSaves parks subsequent Save calls until released, so a test can pin
// a save in flight while it drives more edits through the engine.
func (st *ScriptedTransport) HoldSaves() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.holding = true
}

// ReleaseSaves stops holding and releases every parked save.
func (st *ScriptedTransport) ReleaseSaves() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.holding = false
	for _, gate := range st.held {
		close(gate)
	}
	st.held = nil
}

// ReleaseNextSave releases the oldest parked save, leaving the hold in
// place for later ones. Returns false if nothing is parked.
func (st *ScriptedTransport) ReleaseNextSave() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.held) == 0 {
		return false
	}
	close(st.held[0])
	st.held = st.held[1:]
	return true
}

// StartedSaves returns how many Save calls have arrived, parked or not.
func (st *ScriptedTransport) StartedSaves() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.started
}

// CompletedSaves returns how many Save calls have returned, success or
// failure.
func (st *ScriptedTransport) CompletedSaves() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.completed
}

// Calls returns a copy of the call log in start order.
func (st *ScriptedTransport) Calls() []Call {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Call, len(st.calls))
	copy(out, st.calls)
	return out
}

// CallCount returns how many logged calls match op.
func (st *ScriptedTransport) CallCount(op string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for _, c := range st.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Fetch implements remote.Transport against the store, honoring injected
// failures.
func (st *ScriptedTransport) Fetch(ctx context.Context, documentID string) (remote.FetchResult, error) {
	st.mu.Lock()
	var inject error
	if len(st.failFetch) > 0 {
		inject = st.failFetch[0]
		st.failFetch = st.failFetch[1:]
	}
	st.mu.Unlock()

	idx := st.begin("fetch", documentID, "", 0)
	if inject != nil {
		st.finish(idx, resultFor(inject), docstore.Document{}, inject)
		return remote.FetchResult{}, inject
	}

	doc, err := st.store.Get(ctx, documentID)
	if err != nil {
		mapped := mapStoreErr("fetch", documentID, err)
		st.finish(idx, resultFor(mapped), docstore.Document{}, mapped)
		return remote.FetchResult{}, mapped
	}
	st.finish(idx, "ok", doc, nil)
	return remote.FetchResult{Content: doc.Content, Version: doc.Version}, nil
}

// Save implements remote.Transport. The call parks while a hold is active
// and completes against the store (or an injected failure) once released.
func (st *ScriptedTransport) Save(ctx context.Context, documentID string, p patch.Patch, expectedVersion int64) (remote.SaveResult, error) {
	st.mu.Lock()
	idx := st.beginLocked("save", documentID, p.Text(), expectedVersion)
	st.started++
	var gate chan struct{}
	if st.holding {
		gate = make(chan struct{})
		st.held = append(st.held, gate)
	}
	st.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			err := &remote.TransportError{Op: "save", DocumentID: documentID, Err: ctx.Err()}
			st.completeSave(idx, resultFor(err), docstore.Document{}, err)
			return remote.SaveResult{}, err
		}
	}

	st.mu.Lock()
	var inject error
	if len(st.failSave) > 0 {
		inject = st.failSave[0]
		st.failSave = st.failSave[1:]
	}
	st.mu.Unlock()
	if inject != nil {
		st.completeSave(idx, resultFor(inject), docstore.Document{}, inject)
		return remote.SaveResult{}, inject
	}

	doc, err := st.store.ApplyPatch(ctx, documentID, p.Text(), expectedVersion)
	if err != nil {
		mapped := mapStoreErr("save", documentID, err)
		st.completeSave(idx, resultFor(mapped), docstore.Document{}, mapped)
		return remote.SaveResult{}, mapped
	}
	st.completeSave(idx, "ok", doc, nil)
	return remote.SaveResult{Version: doc.Version}, nil
}

// FlushBeacon implements remote.Transport: the patch is applied
// best-effort and the outcome is recorded but never reported.
func (st *ScriptedTransport) FlushBeacon(documentID string, p patch.Patch, expectedVersion int64) {
	idx := st.begin("beacon", documentID, p.Text(), expectedVersion)
	doc, err := st.store.ApplyPatch(context.Background(), documentID, p.Text(), expectedVersion)
	if err != nil {
		st.finish(idx, resultFor(err), docstore.Document{}, err)
		return
	}
	st.finish(idx, "ok", doc, nil)
}

func (st *ScriptedTransport) begin(op, docID, patchText string, base int64) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.beginLocked(op, docID, patchText, base)
}

func (st *ScriptedTransport) beginLocked(op, docID, patchText string, base int64) int {
	st.calls = append(st.calls, Call{
		Seq:   len(st.calls) + 1,
		At:    st.now(),
		Op:    op,
		DocID: docID,
		Patch: patchText,
		Base:  base,
	})
	return len(st.calls) - 1
}

func (st *ScriptedTransport) finish(idx int, result string, doc docstore.Document, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.finishLocked(idx, result, doc, err)
}

func (st *ScriptedTransport) completeSave(idx int, result string, doc docstore.Document, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.completed++
	st.finishLocked(idx, result, doc, err)
}

func (st *ScriptedTransport) finishLocked(idx int, result string, doc docstore.Document, err error) {
	c := &st.calls[idx]
	c.Result = result
	if err != nil {
		c.Err = err.Error()
		var conflict *remote.ConflictError
		if errors.As(err, &conflict) {
			c.Version = conflict.CurrentVersion
		}
		var storeConflict *docstore.ConflictError
		if errors.As(err, &storeConflict) {
			c.Version = storeConflict.CurrentVersion
		}
		return
	}
	c.Content = doc.Content
	c.Version = doc.Version
}

// mapStoreErr translates store errors into the transport taxonomy the
// engine dispatches on.
func mapStoreErr(op, docID string, err error) error {
	var conflict *docstore.ConflictError
	switch {
	case errors.As(err, &conflict):
		return &remote.ConflictError{
			DocumentID:      docID,
			ExpectedVersion: conflict.ExpectedVersion,
			CurrentVersion:  conflict.CurrentVersion,
		}
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%s %s: %w", op, docID, remote.ErrNotFound)
	case errors.Is(err, docstore.ErrPatchMismatch), errors.Is(err, docstore.ErrBadPatch):
		return fmt.Errorf("%s %s: %w", op, docID, remote.ErrPatchMismatch)
	default:
		return &remote.TransportError{Op: op, DocumentID: docID, Err: err}
	}
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, remote.ErrVersionConflict), errors.Is(err, docstore.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, remote.ErrNotFound), errors.Is(err, docstore.ErrNotFound):
		return "not_found"
	case errors.Is(err, remote.ErrPatchMismatch), errors.Is(err, docstore.ErrPatchMismatch):
		return "mismatch"
	default:
		return "error"
	}
}
