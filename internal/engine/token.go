package engine

import "github.com/google/uuid"

// TokenGenerator issues correlation tokens for save attempts. Every
// attempt carries one token through client logs, request headers, and
// traces so a save can be followed across both halves of the wire.
//
// Production uses UUIDv7Tokens; tests use a fixed sequence for
// deterministic traces.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Tokens issues time-sortable UUIDv7 tokens. Sorting tokens sorts
// attempts by creation time, which keeps interleaved logs legible.
//
// Stateless and safe for concurrent use.
type UUIDv7Tokens struct{}

// Generate returns a new hyphenated UUIDv7 string.
// Panics only if the system entropy source is broken.
func (UUIDv7Tokens) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
