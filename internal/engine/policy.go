package engine

import "github.com/inklet/inklet/internal/patch"

// decision is the outcome of the save decision policy.
type decision int

const (
	// decisionNoop: nothing to persist, nothing to schedule.
	decisionNoop decision = iota

	// decisionSkip: defer the save and arm or refresh the skip timer.
	decisionSkip

	// decisionSave: send the patch now.
	decisionSave
)

func (d decision) String() string {
	switch d {
	case decisionNoop:
		return "noop"
	case decisionSkip:
		return "skip"
	case decisionSave:
		return "save"
	default:
		return "unknown"
	}
}

// savePolicy holds the thresholds that decide whether a patch is worth a
// network round trip.
type savePolicy struct {
	// smallPatchThreshold: patches serialized below this many bytes are
	// deferred. Single keystrokes land here.
	smallPatchThreshold int

	// snapshotRatio: a patch larger than this fraction of the content is
	// deferred; the diff overhead outweighs sending a snapshot. Large
	// structural edits land here.
	snapshotRatio float64
}

// decide applies the policy rules strictly in order:
// force wins, empty patches are no-ops, small and pathological patches are
// skipped unless the skip timer is already past its deadline, everything
// else saves now. A past-deadline skip timer disables further skipping so
// deferral can never become indefinite.
func (sp savePolicy) decide(p patch.Patch, contentLen int, force, skipPastDeadline bool) decision {
	if force {
		return decisionSave
	}
	if p.Empty() {
		return decisionNoop
	}
	if p.Size() < sp.smallPatchThreshold && !skipPastDeadline {
		return decisionSkip
	}
	if float64(p.Size()) > sp.snapshotRatio*float64(contentLen) && !skipPastDeadline {
		return decisionSkip
	}
	return decisionSave
}
