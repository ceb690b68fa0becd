package testutil

import (
	"fmt"
	"sync"
)

// FixedTokens issues a predetermined sequence of attempt tokens so save
// attempts are identifiable in assertions and traces. Panics when the
// sequence is exhausted: a test consuming more tokens than it declared is
// making attempts it does not know about.
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

// NewFixedTokens returns a generator yielding the given tokens in order.
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// NewNumberedTokens returns a generator yielding "prefix-01" through
// "prefix-<n>", for tests that care about determinism but not about the
// individual values.
func NewNumberedTokens(prefix string, n int) *FixedTokens {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("%s-%02d", prefix, i+1)
	}
	return NewFixedTokens(tokens...)
}

// Generate returns the next token in the sequence.
func (g *FixedTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.next >= len(g.tokens) {
		panic(fmt.Sprintf("testutil: fixed tokens exhausted after %d", len(g.tokens)))
	}
	token := g.tokens[g.next]
	g.next++
	return token
}

// Issued returns how many tokens have been handed out.
func (g *FixedTokens) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}
