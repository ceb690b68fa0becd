package engine

import "time"

// document is the mutable per-document state. Owned exclusively by the Run
// loop goroutine; nothing outside the loop reads or writes it.
type document struct {
	id string

	// lastSaved is the diff baseline: the last snapshot the server is
	// known to hold. Advanced only by a server ack or a fetch.
	lastSaved string

	// serverVersion is assigned by the server on every accepted write.
	// Never guessed or incremented locally.
	serverVersion int64

	// pending is the newest snapshot not yet confirmed saved.
	pending    string
	hasPending bool

	// dirtyAt is when the current dirty period began: the arrival of the
	// first edit not yet confirmed saved. The skip deadline is measured
	// from here, so a deferred edit's staleness is bounded regardless of
	// how long the debounce window ran before the first skip decision.
	dirtyAt time.Time

	state   SaveState
	errored bool // last attempt failed; cleared by the next success

	// lastSyncAt is when the baseline last took server truth.
	lastSyncAt time.Time

	// Deadlines. A zero time means unarmed.
	debounceAt    time.Time
	maxIntervalAt time.Time

	// Skip timer. Refreshing replaces skipContent but never skipDeadline,
	// which bounds worst-case staleness of a skipped edit.
	skipArmedAt  time.Time
	skipDeadline time.Time
	skipContent  string

	// One-slot coalescing queue for edits arriving mid-save. Overwritten,
	// never appended: only the latest snapshot matters.
	queued    string
	hasQueued bool

	inFlight     bool
	attemptToken string
}

func (d *document) skipArmed() bool {
	return !d.skipDeadline.IsZero()
}

func (d *document) skipPastDeadline(now time.Time) bool {
	return d.skipArmed() && !now.Before(d.skipDeadline)
}

func (d *document) clearSkip() {
	d.skipArmedAt = time.Time{}
	d.skipDeadline = time.Time{}
	d.skipContent = ""
}

func (d *document) clearSchedule() {
	d.debounceAt = time.Time{}
	d.maxIntervalAt = time.Time{}
}

// nextDeadline returns the earliest armed deadline, if any. The loop uses
// it to arm a single wake timer; firing logic re-checks state and time.
func (d *document) nextDeadline() (time.Time, bool) {
	var next time.Time
	for _, t := range []time.Time{d.debounceAt, d.maxIntervalAt, d.skipDeadline} {
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next, !next.IsZero()
}
