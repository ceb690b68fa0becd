package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inklet/inklet/internal/patch"
	"github.com/inklet/inklet/internal/remote"
)

// Engine synchronizes one document's edits to the remote store.
//
// Construct with New, establish a baseline with Seed or Load, then start
// Run in its own goroutine. OnContentChanged, FlushNow, Status, Version
// and Sync are safe from any goroutine; all other document state is owned
// by the Run loop and never locked.
type Engine struct {
	docID     string
	transport remote.Transport
	codec     *patch.Codec
	clock     Clock
	log       *slog.Logger
	tokens    TokenGenerator
	timings   Timings
	policy    savePolicy

	queue  *eventQueue
	doc    document
	seeded bool

	// mirror is the thread-safe projection of loop-owned state backing
	// Status, Version, NextDeadline and FlushNow. pending is advanced by
	// OnContentChanged before its event is enqueued, so FlushNow always
	// sees the newest snapshot even when the loop has not; the loop only
	// clears it once that exact snapshot is confirmed saved.
	mirror struct {
		sync.Mutex
		pending     string
		hasPending  bool
		baseline    string
		version     int64
		status      Status
		deadline    time.Time
		hasDeadline bool
	}
}

// New creates an engine for one document. The transport is the engine's
// only side-effect channel; everything else is deterministic state.
func New(docID string, transport remote.Transport, opts ...Option) *Engine {
	e := &Engine{
		docID:     docID,
		transport: transport,
		codec:     patch.NewCodec(),
		clock:     NewSystemClock(),
		log:       slog.Default(),
		tokens:    UUIDv7Tokens{},
		timings:   DefaultTimings(),
		queue:     newEventQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.timings = e.timings.withDefaults()
	e.policy = savePolicy{
		smallPatchThreshold: e.timings.SmallPatchThreshold,
		snapshotRatio:       e.timings.SnapshotRatio,
	}
	e.doc = document{id: docID}
	return e
}

// DocumentID returns the identifier this engine synchronizes.
func (e *Engine) DocumentID() string { return e.docID }

// Seed establishes the diff baseline and server version directly. Must be
// called before Run starts; afterwards the baseline is owned by the Run
// loop and only server responses move it.
func (e *Engine) Seed(content string, version int64) {
	e.doc.lastSaved = content
	e.doc.serverVersion = version
	e.doc.lastSyncAt = e.clock.Now()
	e.doc.state = StateIdle
	e.seeded = true

	e.mirror.Lock()
	e.mirror.baseline = content
	e.mirror.version = version
	e.mirror.status = StatusSaved
	e.mirror.Unlock()
}

// Load seeds the engine from the authoritative server copy.
func (e *Engine) Load(ctx context.Context) error {
	res, err := e.transport.Fetch(ctx, e.docID)
	if err != nil {
		return fmt.Errorf("load %s: %w", e.docID, err)
	}
	e.Seed(res.Content, res.Version)
	return nil
}

// OnContentChanged submits the editor's latest snapshot. Non-blocking and
// safe from any goroutine; bursts coalesce through the debounce window.
func (e *Engine) OnContentChanged(content string) {
	e.mirror.Lock()
	e.mirror.pending = content
	e.mirror.hasPending = true
	e.mirror.Unlock()

	if !e.queue.Enqueue(event{typ: eventEdit, content: content}) {
		e.log.Debug("edit dropped: engine closed", "doc", e.docID)
	}
}

// FlushNow sends any unsaved content as a fire-and-forget beacon,
// bypassing the debounce and skip machinery. Synchronous: nothing here
// depends on another event-loop turn, so it is safe from an unload or
// shutdown path right before the process exits. The baseline is not
// advanced (no acknowledgement is awaited); if the process survives, a
// later regular save of the same edits may conflict and heals through
// the normal conflict path.
func (e *Engine) FlushNow() {
	e.mirror.Lock()
	pending, hasPending := e.mirror.pending, e.mirror.hasPending
	baseline, version := e.mirror.baseline, e.mirror.version
	e.mirror.Unlock()

	if !hasPending {
		return
	}
	p := e.codec.Diff(baseline, pending)
	if p.Empty() {
		return
	}
	e.transport.FlushBeacon(e.docID, p, version)
	e.log.Info("flush beacon sent", "doc", e.docID, "base_version", version, "patch_bytes", p.Size())
}

// Status reports the user-visible save status.
func (e *Engine) Status() Status {
	e.mirror.Lock()
	defer e.mirror.Unlock()
	return e.mirror.status
}

// Version returns the last server version the engine has confirmed.
func (e *Engine) Version() int64 {
	e.mirror.Lock()
	defer e.mirror.Unlock()
	return e.mirror.version
}

// NextDeadline reports the earliest armed timer deadline, if any. It
// reflects state as of the last processed event; pair it with Sync for a
// stable read. Tests and the conformance harness use it to step a fake
// clock through the engine's schedule.
func (e *Engine) NextDeadline() (time.Time, bool) {
	e.mirror.Lock()
	defer e.mirror.Unlock()
	return e.mirror.deadline, e.mirror.hasDeadline
}

// Sync blocks until every event enqueued before the call has been
// processed. Returns immediately if the engine is stopped. Only
// meaningful while Run is active.
func (e *Engine) Sync() {
	done := make(chan struct{})
	if !e.queue.Enqueue(event{typ: eventBarrier, done: done}) {
		return
	}
	<-done
}

// QueueLen returns the number of unprocessed events.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// Stop closes the event queue. Run drains what is already queued and
// returns; an in-flight save finishes fire-and-forget but no further
// timers are scheduled. Idempotent.
func (e *Engine) Stop() { e.queue.Close() }

// Run is the single-writer event loop. It owns every mutation of the
// document state and must be called from exactly one goroutine. Blocks
// until ctx is cancelled or Stop drains the queue.
func (e *Engine) Run(ctx context.Context) error {
	if !e.seeded {
		return ErrNotSeeded
	}
	e.log.Info("sync engine starting", "doc", e.docID, "version", e.doc.serverVersion)

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			e.processEvent(ev)
			continue
		}

		if e.queue.Closed() {
			e.log.Info("sync engine stopped", "doc", e.docID)
			return nil
		}

		if e.fireDueDeadlines() {
			continue
		}

		var wake <-chan time.Time
		if next, armed := e.doc.nextDeadline(); armed {
			wake = e.clock.Wake(next)
		}

		select {
		case <-ctx.Done():
			e.queue.Close()
			e.releaseWaiters()
			e.log.Info("sync engine stopping: context cancelled", "doc", e.docID)
			return ctx.Err()
		case <-e.queue.Wait():
			// Re-check the queue; stale signals are possible.
		case <-wake:
			// A deadline may be due; the next iteration fires it.
		}
	}
}

// releaseWaiters unblocks barrier waiters left queued when Run exits on
// cancellation, so Sync callers cannot hang. Other queued events are
// discarded; the mirror still holds the latest pending content for a
// final FlushNow.
func (e *Engine) releaseWaiters() {
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		if ev.typ == eventBarrier {
			close(ev.done)
		}
	}
}

func (e *Engine) processEvent(ev event) {
	switch ev.typ {
	case eventEdit:
		e.handleEdit(ev.content)
	case eventSaveProgress:
		e.handleSaveProgress(ev.token)
	case eventSaveDone:
		e.handleSaveDone(ev.outcome)
	case eventBarrier:
		close(ev.done)
	default:
		e.log.Error("unknown event type", "doc", e.docID, "type", int(ev.typ))
	}
}

// handleEdit folds a new snapshot into the schedule. Edits during a save
// go to the one-slot queue; edits while the skip timer is armed refresh
// the deferred content without moving its deadline; anything else starts
// or refreshes the debounce window.
func (e *Engine) handleEdit(content string) {
	now := e.clock.Now()
	d := &e.doc

	if !d.hasPending {
		d.dirtyAt = now
	}
	d.pending = content
	d.hasPending = true

	switch {
	case d.inFlight:
		d.queued = content
		d.hasQueued = true
	case d.skipArmed():
		// The skip deadline stays put (bounded staleness); the debounce
		// window restarts so a patch that has grown past the skip
		// heuristics can escalate to a real save before the deadline.
		d.skipContent = content
		d.debounceAt = now.Add(e.timings.DebounceDelay)
		d.state = StateSkipWaiting
	default:
		d.debounceAt = now.Add(e.timings.DebounceDelay)
		if d.maxIntervalAt.IsZero() {
			// Armed once per dirty period, never pushed back by later
			// edits: this is the ceiling that bounds lost work under
			// continuous typing.
			d.maxIntervalAt = now.Add(e.timings.MaxSaveInterval)
		}
		d.state = StateDebouncePending
	}
	e.publish()
}

// fireDueDeadlines fires at most one due timer and reports whether it
// did. The loop calls it until nothing is due, so simultaneous deadlines
// fire in priority order: skip first (it carries the force guarantee),
// then max-interval, then debounce.
func (e *Engine) fireDueDeadlines() bool {
	d := &e.doc
	now := e.clock.Now()

	switch {
	case d.skipPastDeadline(now):
		content := d.skipContent
		deferredFor := now.Sub(d.skipArmedAt)
		d.clearSkip()
		if d.inFlight {
			// Coalesce into the one-slot queue; the slot already holds a
			// newer snapshot if edits arrived during the flight.
			if !d.hasQueued {
				d.queued = content
				d.hasQueued = true
			}
		} else {
			e.log.Debug("skip window expired, forcing save", "doc", e.docID, "deferred_for", deferredFor)
			e.attemptSave(content, true)
		}
	case !d.maxIntervalAt.IsZero() && !now.Before(d.maxIntervalAt):
		d.maxIntervalAt = time.Time{}
		e.log.Debug("max save interval reached, forcing save", "doc", e.docID)
		e.attemptSave(d.pending, true)
	case !d.debounceAt.IsZero() && !now.Before(d.debounceAt):
		d.debounceAt = time.Time{}
		e.attemptSave(d.pending, false)
	default:
		return false
	}
	e.publish()
	return true
}

// attemptSave runs one snapshot through the decision policy and acts on
// the outcome. Only the Run loop calls it.
func (e *Engine) attemptSave(content string, force bool) {
	d := &e.doc
	now := e.clock.Now()

	if d.inFlight {
		d.queued = content
		d.hasQueued = true
		return
	}

	p := e.codec.Diff(d.lastSaved, content)

	dec := e.policy.decide(p, len(content), force, d.skipPastDeadline(now))
	if dec == decisionSave && p.Empty() {
		// A forced attempt whose content already matches the baseline:
		// nothing is left to persist, so complete locally instead of
		// shipping an empty patch. Forcing exists to defeat the skip
		// heuristics, not the no-op check.
		dec = decisionNoop
	}

	switch dec {
	case decisionNoop:
		if d.pending == content {
			d.pending, d.hasPending = "", false
			d.dirtyAt = time.Time{}
		}
		d.clearSchedule()
		d.clearSkip()
		d.state = StateIdle
		e.clearMirrorPending(content)
	case decisionSkip:
		if !d.skipArmed() {
			// The deadline is anchored to the dirty period's start, not
			// to this decision: an edit deferred at the tail of a long
			// debounce window still persists within MinSaveInterval of
			// the keystroke that produced it.
			armedAt := d.dirtyAt
			if armedAt.IsZero() {
				armedAt = now
			}
			d.skipArmedAt = armedAt
			d.skipDeadline = armedAt.Add(e.timings.MinSaveInterval)
			e.log.Debug("save deferred", "doc", e.docID, "patch_bytes", p.Size(), "deadline", d.skipDeadline)
		}
		d.skipContent = content
		// Max-interval is suppressed while the skip window runs; the skip
		// deadline already guarantees forward progress.
		d.clearSchedule()
		d.state = StateSkipWaiting
	case decisionSave:
		token := e.tokens.Generate()
		d.inFlight = true
		d.attemptToken = token
		d.clearSchedule()
		d.state = StateSaving
		e.log.Debug("save starting", "doc", e.docID, "attempt", token,
			"base_version", d.serverVersion, "patch_bytes", p.Size(),
			"content", patch.Fingerprint(content), "forced", force)
		go e.executeSave(token, content, d.serverVersion, p, false)
	}
}

func (e *Engine) handleSaveProgress(token string) {
	if !e.doc.inFlight || e.doc.attemptToken != token {
		return
	}
	e.doc.state = StateConflictRetry
	e.publish()
}

// handleSaveDone folds a completed attempt back into the document. The
// attempt may have rebased the baseline on refetched server truth even
// when it ultimately failed; that truth is always adopted so the next
// diff starts from reality.
func (e *Engine) handleSaveDone(out *saveOutcome) {
	d := &e.doc
	if out.token != d.attemptToken {
		e.log.Warn("stale save outcome ignored", "doc", e.docID, "attempt", out.token)
		return
	}

	d.inFlight = false
	d.attemptToken = ""
	// The deferred snapshot was either carried by this attempt or still
	// lives in pending; either way the skip window is spent.
	d.clearSkip()

	if out.refetched {
		d.lastSaved = out.refetchContent
		d.serverVersion = out.refetchVersion
		d.lastSyncAt = e.clock.Now()
	}

	if out.conflict {
		e.resolveConflict(out)
		return
	}

	if out.err == nil {
		d.lastSaved = out.content
		d.serverVersion = out.version
		d.lastSyncAt = e.clock.Now()
		d.errored = false
		if d.pending == out.content {
			d.pending, d.hasPending = "", false
			d.dirtyAt = time.Time{}
		}
		e.clearMirrorPending(out.content)

		if out.retry {
			e.log.Info("save complete after conflict retry",
				"doc", e.docID, "attempt", out.token, "version", out.version)
		} else {
			e.log.Info("save complete", "doc", e.docID, "attempt", out.token,
				"version", out.version, "content", patch.Fingerprint(out.content))
		}

		if d.hasQueued {
			content := d.queued
			d.queued, d.hasQueued = "", false
			d.pending = content
			d.hasPending = true
			d.dirtyAt = e.clock.Now()
			d.state = StateIdle
			// Drain: the queued snapshot goes through the full policy, so
			// a tiny follow-up edit may legitimately defer again.
			e.attemptSave(content, false)
		} else {
			d.state = StateIdle
		}
		e.publish()
		return
	}

	// Failure: the snapshot stays pending; the regular timers carry the
	// retry instead of a dedicated backoff loop.
	d.errored = true
	if d.hasQueued {
		d.pending = d.queued
		d.hasPending = true
		d.queued, d.hasQueued = "", false
	}
	e.log.Warn("save failed", "doc", e.docID, "attempt", out.token,
		"age", e.clock.Now().Sub(d.lastSyncAt), "error", out.err)

	if d.hasPending {
		now := e.clock.Now()
		d.debounceAt = now.Add(e.timings.DebounceDelay)
		d.maxIntervalAt = now.Add(e.timings.MaxSaveInterval)
		d.state = StateDebouncePending
	} else {
		d.state = StateIdle
	}
	e.publish()
}

// resolveConflict decides the single retry after a conflicted save. The
// baseline was just rebased on refetched server truth; the retry carries
// the newest snapshot available (the one-slot queue if edits arrived
// during the flight, otherwise the conflicted attempt's own), so the
// recovery round trip never ships content the editor has already moved
// past. The attempt token is reused: the retry is the same attempt.
func (e *Engine) resolveConflict(out *saveOutcome) {
	d := &e.doc
	content := out.content
	if d.hasQueued {
		content = d.queued
		d.queued, d.hasQueued = "", false
		d.pending = content
		d.hasPending = true
	}

	p := e.codec.Diff(d.lastSaved, content)
	if p.Empty() {
		// Server truth already matches: our own earlier write whose ack
		// was lost, or an identical concurrent edit.
		d.errored = false
		if d.pending == content {
			d.pending, d.hasPending = "", false
			d.dirtyAt = time.Time{}
		}
		e.clearMirrorPending(content)
		d.state = StateIdle
		e.log.Info("save resolved by refetch: server already current",
			"doc", e.docID, "attempt", out.token, "version", d.serverVersion)
		e.publish()
		return
	}

	d.inFlight = true
	d.attemptToken = out.token
	d.state = StateSaving
	e.log.Debug("conflict retry starting", "doc", e.docID, "attempt", out.token,
		"base_version", d.serverVersion, "patch_bytes", p.Size(),
		"content", patch.Fingerprint(content))
	go e.executeSave(out.token, content, d.serverVersion, p, true)
	e.publish()
}

// publish projects loop-owned state into the mirror for Status, Version,
// NextDeadline and FlushNow readers.
func (e *Engine) publish() {
	d := &e.doc
	st := StatusSaved
	switch {
	case d.inFlight:
		st = StatusSaving
	case d.errored:
		st = StatusError
	}
	next, hasNext := d.nextDeadline()

	e.mirror.Lock()
	e.mirror.status = st
	e.mirror.baseline = d.lastSaved
	e.mirror.version = d.serverVersion
	e.mirror.deadline = next
	e.mirror.hasDeadline = hasNext
	e.mirror.Unlock()
}

// clearMirrorPending drops the mirror's pending snapshot if it is still
// exactly the snapshot that was confirmed saved; a newer edit keeps it.
func (e *Engine) clearMirrorPending(content string) {
	e.mirror.Lock()
	if e.mirror.hasPending && e.mirror.pending == content {
		e.mirror.pending = ""
		e.mirror.hasPending = false
	}
	e.mirror.Unlock()
}
