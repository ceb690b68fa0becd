package engine

// SaveState is the internal lifecycle state of a document's save machinery.
// It drives scheduling decisions; callers outside the package observe the
// coarser Status instead.
type SaveState int

const (
	// StateIdle means no content is pending and no timers are armed.
	StateIdle SaveState = iota

	// StateDebouncePending means edits are pending and the debounce and
	// max-interval deadlines are live.
	StateDebouncePending

	// StateSaving means exactly one save is in flight.
	StateSaving

	// StateConflictRetry means the in-flight save hit a version conflict
	// and is refetching and retrying once.
	StateConflictRetry

	// StateSkipWaiting means the last patch was judged not worth a round
	// trip and the skip timer guarantees a forced save by its deadline.
	StateSkipWaiting
)

func (s SaveState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncePending:
		return "debounce_pending"
	case StateSaving:
		return "saving"
	case StateConflictRetry:
		return "conflict_retry"
	case StateSkipWaiting:
		return "skip_waiting"
	default:
		return "unknown"
	}
}

// Status is the user-visible save status. Failures are absorbed into
// StatusError and retried on the next natural trigger; callers are never
// handed a transport error.
type Status int

const (
	// StatusSaved means the engine believes server content matches the
	// latest edits, or edits are merely waiting on a timer.
	StatusSaved Status = iota

	// StatusSaving means a save attempt is in flight.
	StatusSaving

	// StatusError means the last save attempt failed; pending content is
	// retained and will be retried.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusSaving:
		return "saving"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
