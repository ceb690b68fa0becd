package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedTokens_SequenceInOrder(t *testing.T) {
	g := NewFixedTokens("alpha", "beta", "gamma")

	assert.Equal(t, "alpha", g.Generate())
	assert.Equal(t, "beta", g.Generate())
	assert.Equal(t, "gamma", g.Generate())
	assert.Equal(t, 3, g.Issued())
}

func TestFixedTokens_ExhaustionPanics(t *testing.T) {
	g := NewFixedTokens("only")
	g.Generate()

	assert.Panics(t, func() {
		g.Generate()
	}, "an attempt past the declared sequence is a bug in the test")
}

func TestNumberedTokens_Format(t *testing.T) {
	g := NewNumberedTokens("save", 3)

	assert.Equal(t, "save-01", g.Generate())
	assert.Equal(t, "save-02", g.Generate())
	assert.Equal(t, "save-03", g.Generate())
}
