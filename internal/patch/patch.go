// Package patch computes and applies textual deltas between document
// snapshots. It wraps diff-match-patch behind a small codec so the rest of
// the system treats diff production, sizing, and application as primitives.
package patch

import (
	"errors"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrApplyMismatch is returned when a patch does not land cleanly on the
// text it is applied to. Given the round-trip law this indicates a corrupt
// patch or a baseline that drifted from the one the patch was computed
// against; callers must resynchronize from authoritative content.
var ErrApplyMismatch = errors.New("patch did not apply cleanly")

// Patch is an opaque reversible delta between two text snapshots.
// The zero value is the empty patch.
type Patch struct {
	ops  []diffmatchpatch.Patch
	text string
}

// Empty reports whether applying the patch is a no-op.
func (p Patch) Empty() bool { return len(p.ops) == 0 }

// Size returns the serialized byte length of the patch.
// Used for save heuristics only, never for correctness.
func (p Patch) Size() int { return len(p.text) }

// Text returns the wire form of the patch. Empty patches serialize to "".
func (p Patch) Text() string { return p.text }

// Codec produces and applies patches. Safe for concurrent use: the
// underlying diff-match-patch operations never mutate shared state after
// construction.
type Codec struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewCodec returns a Codec configured for deterministic diffs.
func NewCodec() *Codec {
	dmp := diffmatchpatch.New()
	// A diff deadline trades quality for speed nondeterministically across
	// machines. Diffs here must be a pure function of their inputs.
	dmp.DiffTimeout = 0
	return &Codec{dmp: dmp}
}

// Diff computes the patch transforming old into new.
// Diff(x, x) yields the empty patch.
func (c *Codec) Diff(old, new string) Patch {
	if old == new {
		return Patch{}
	}
	diffs := c.dmp.DiffMain(old, new, true)
	diffs = c.dmp.DiffCleanupEfficiency(diffs)
	ops := c.dmp.PatchMake(old, diffs)
	return Patch{ops: ops, text: c.dmp.PatchToText(ops)}
}

// Apply reconstructs the new snapshot from old plus the patch.
// Satisfies Apply(old, Diff(old, new)) == new for all text pairs.
func (c *Codec) Apply(old string, p Patch) (string, error) {
	if p.Empty() {
		return old, nil
	}
	result, applied := c.dmp.PatchApply(p.ops, old)
	for _, ok := range applied {
		if !ok {
			return "", ErrApplyMismatch
		}
	}
	return result, nil
}

// Parse decodes a patch from its wire form.
func (c *Codec) Parse(text string) (Patch, error) {
	if text == "" {
		return Patch{}, nil
	}
	ops, err := c.dmp.PatchFromText(text)
	if err != nil {
		return Patch{}, err
	}
	return Patch{ops: ops, text: text}, nil
}
