package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklet/inklet/internal/patch"
)

// storeUnderTest runs the conformance suite against every implementation
// that can be exercised without external services.
func storeUnderTest(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()
	codec := patch.NewCodec()

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create and get", func(t *testing.T) {
		s := open(t)
		created, err := s.Create(ctx, "doc-1", "hello")
		require.NoError(t, err)
		assert.Equal(t, "doc-1", created.ID)
		assert.Equal(t, int64(1), created.Version)

		got, err := s.Get(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("create assigns id when empty", func(t *testing.T) {
		s := open(t)
		created, err := s.Create(ctx, "", "content")
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
	})

	t.Run("create duplicate", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "doc-1", "a")
		require.NoError(t, err)
		_, err = s.Create(ctx, "doc-1", "b")
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("apply patch bumps version", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "doc-1", "hello")
		require.NoError(t, err)

		p := codec.Diff("hello", "hello world")
		doc, err := s.ApplyPatch(ctx, "doc-1", p.Text(), 1)
		require.NoError(t, err)
		assert.Equal(t, "hello world", doc.Content)
		assert.Equal(t, int64(2), doc.Version)

		// Subsequent writes build on the new version.
		p2 := codec.Diff("hello world", "hello world!")
		doc, err = s.ApplyPatch(ctx, "doc-1", p2.Text(), 2)
		require.NoError(t, err)
		assert.Equal(t, "hello world!", doc.Content)
		assert.Equal(t, int64(3), doc.Version)
	})

	t.Run("apply patch stale version conflicts", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "doc-1", "base")
		require.NoError(t, err)

		p := codec.Diff("base", "first writer")
		_, err = s.ApplyPatch(ctx, "doc-1", p.Text(), 1)
		require.NoError(t, err)

		// A second writer still holding version 1 must lose.
		p2 := codec.Diff("base", "second writer")
		_, err = s.ApplyPatch(ctx, "doc-1", p2.Text(), 1)
		assert.ErrorIs(t, err, ErrVersionConflict)

		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(1), conflict.ExpectedVersion)
		assert.Equal(t, int64(2), conflict.CurrentVersion)

		// The losing write left no trace.
		doc, err := s.Get(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "first writer", doc.Content)
		assert.Equal(t, int64(2), doc.Version)
	})

	t.Run("apply patch missing document", func(t *testing.T) {
		s := open(t)
		p := codec.Diff("a", "b")
		_, err := s.ApplyPatch(ctx, "nope", p.Text(), 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("apply malformed patch", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "doc-1", "content")
		require.NoError(t, err)

		_, err = s.ApplyPatch(ctx, "doc-1", "not a patch", 1)
		assert.ErrorIs(t, err, ErrBadPatch)

		doc, err := s.Get(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "content", doc.Content, "failed write must not mutate")
		assert.Equal(t, int64(1), doc.Version)
	})

	t.Run("apply mismatched patch", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "doc-1", "an entirely different document about sailing")
		require.NoError(t, err)

		old := "The quick brown fox jumps over the lazy dog near the river."
		p := codec.Diff(old, old+" It was dark.")
		_, err = s.ApplyPatch(ctx, "doc-1", p.Text(), 1)
		assert.ErrorIs(t, err, ErrPatchMismatch)

		doc, err := s.Get(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), doc.Version, "failed write must not bump the version")
	})

	t.Run("empty patch is a no-op write", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "doc-1", "same")
		require.NoError(t, err)

		doc, err := s.ApplyPatch(ctx, "doc-1", "", 1)
		require.NoError(t, err)
		assert.Equal(t, "same", doc.Content)
		assert.Equal(t, int64(2), doc.Version, "an accepted write bumps the version even when empty")
	})

	t.Run("list orders by recency", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "old", "a")
		require.NoError(t, err)
		_, err = s.Create(ctx, "new", "b")
		require.NoError(t, err)

		// Touch "old" so it becomes the most recently updated.
		p := codec.Diff("a", "aa")
		_, err = s.ApplyPatch(ctx, "old", p.Text(), 1)
		require.NoError(t, err)

		docs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "old", docs[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "doc-1", "x")
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "doc-1"))
		_, err = s.Get(ctx, "doc-1")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, s.Delete(ctx, "doc-1"), ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestSQLiteStore(t *testing.T) {
	storeUnderTest(t, func(t *testing.T) Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestConflictError_Message(t *testing.T) {
	err := &ConflictError{ID: "d", ExpectedVersion: 3, CurrentVersion: 7}
	assert.Contains(t, err.Error(), "expected 3")
	assert.Contains(t, err.Error(), "stored 7")
}
