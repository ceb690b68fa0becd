package engine

// eventType distinguishes the kinds of work the Run loop processes.
type eventType int

const (
	// eventEdit carries a new content snapshot from the editor.
	eventEdit eventType = iota + 1

	// eventSaveProgress reports that the in-flight save entered its
	// conflict-retry phase.
	eventSaveProgress

	// eventSaveDone reports the outcome of a save attempt.
	eventSaveDone

	// eventBarrier acknowledges that all earlier events were processed.
	eventBarrier
)

// event is the unit of work flowing through the engine's queue.
// Exactly one payload field is set, matching typ.
type event struct {
	typ     eventType
	content string       // eventEdit
	token   string       // eventSaveProgress
	outcome *saveOutcome // eventSaveDone
	done    chan struct{} // eventBarrier
}
