// Package engine implements the per-document synchronization state machine.
//
// One Engine instance owns one open document. A single goroutine (the Run
// loop) owns all mutable state and is driven by a queue of events: content
// changes, timer deadlines, save completions, flushes. Saves execute in a
// short-lived goroutine and report back through the same queue, so the loop
// never blocks on the network and single-flight is enforced structurally.
//
// Scheduling is three cooperating mechanisms:
//
//   - a debounce window that coalesces bursts of edits,
//   - a max-interval ceiling that forces a save under continuous typing,
//   - a skip timer that defers tiny or pathological patches but guarantees
//     they persist within a bounded window.
//
// Deadlines are explicit timestamps checked against an injected Clock, not
// re-armed relative timers, so every bound is testable without wall-clock
// waits.
//
// The engine's only side effects are calls on the remote.Transport it was
// built with. Failures never discard pending content; callers observe
// Saved, Saving, or Error through Status and nothing else.
package engine
