package engine

import (
	"log/slog"
	"time"
)

// Defaults for Timings fields. Zero-valued fields are replaced with these
// at construction.
const (
	DefaultDebounceDelay       = 3 * time.Second
	DefaultMaxSaveInterval     = 30 * time.Second
	DefaultMinSaveInterval     = 10 * time.Second
	DefaultSaveTimeout         = 45 * time.Second
	DefaultSmallPatchThreshold = 200
	DefaultSnapshotRatio       = 0.8
)

// Timings collects the scheduling windows and patch thresholds that drive
// when the engine saves. The defaults suit interactive typing against a
// nearby server; tests shrink them to keep scenarios fast.
type Timings struct {
	// DebounceDelay is the quiet period after the last edit before a
	// save attempt. Reset by every edit.
	DebounceDelay time.Duration

	// MaxSaveInterval bounds how long pending edits can wait under
	// continuous typing: a forced save fires this long after the dirty
	// period began, no matter how often the debounce window resets.
	MaxSaveInterval time.Duration

	// MinSaveInterval is the skip window: a save deferred by the patch
	// heuristics is forced no later than this after the first skip.
	MinSaveInterval time.Duration

	// SaveTimeout bounds one save attempt end to end, conflict refetch
	// and retry included, so a hung transport cannot wedge the document
	// in Saving.
	SaveTimeout time.Duration

	// SmallPatchThreshold is the serialized size in bytes below which a
	// patch is deferred. Single keystrokes land here.
	SmallPatchThreshold int

	// SnapshotRatio defers patches larger than this fraction of the
	// content itself; past that point the diff overhead outweighs
	// sending a snapshot.
	SnapshotRatio float64
}

// DefaultTimings returns the production defaults.
func DefaultTimings() Timings {
	return Timings{
		DebounceDelay:       DefaultDebounceDelay,
		MaxSaveInterval:     DefaultMaxSaveInterval,
		MinSaveInterval:     DefaultMinSaveInterval,
		SaveTimeout:         DefaultSaveTimeout,
		SmallPatchThreshold: DefaultSmallPatchThreshold,
		SnapshotRatio:       DefaultSnapshotRatio,
	}
}

func (t Timings) withDefaults() Timings {
	if t.DebounceDelay <= 0 {
		t.DebounceDelay = DefaultDebounceDelay
	}
	if t.MaxSaveInterval <= 0 {
		t.MaxSaveInterval = DefaultMaxSaveInterval
	}
	if t.MinSaveInterval <= 0 {
		t.MinSaveInterval = DefaultMinSaveInterval
	}
	if t.SaveTimeout <= 0 {
		t.SaveTimeout = DefaultSaveTimeout
	}
	if t.SmallPatchThreshold <= 0 {
		t.SmallPatchThreshold = DefaultSmallPatchThreshold
	}
	if t.SnapshotRatio <= 0 {
		t.SnapshotRatio = DefaultSnapshotRatio
	}
	return t
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithClock replaces the wall clock. Tests inject a fake clock so every
// deadline can be exercised without real waits.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger for engine diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTokens replaces the attempt token generator.
func WithTokens(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithTimings overrides the scheduling windows and patch thresholds.
// Zero-valued fields keep their defaults.
func WithTimings(t Timings) Option {
	return func(e *Engine) { e.timings = t }
}
