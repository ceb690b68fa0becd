package engine

import "errors"

// ErrNotSeeded is returned by Run when the engine has no baseline.
// Seed or Load must establish server truth before the loop starts; the
// engine never invents a version.
var ErrNotSeeded = errors.New("engine has no baseline: seed or load the document first")
