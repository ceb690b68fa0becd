package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklet/inklet/internal/patch"
)

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpenSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	ctx := context.Background()
	codec := patch.NewCodec()

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s1.Create(ctx, "doc-1", "persisted")
	require.NoError(t, err)
	p := codec.Diff("persisted", "persisted and patched")
	_, err = s1.ApplyPatch(ctx, "doc-1", p.Text(), 1)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	doc, err := s2.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "persisted and patched", doc.Content)
	assert.Equal(t, int64(2), doc.Version)
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpenSQLite_AppliesPragmas(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	defer s.Close()

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var userVersion int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&userVersion))
	assert.Equal(t, currentSchemaVersion, userVersion)
}

func TestOpenSQLite_InMemory(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Create(context.Background(), "doc-1", "ephemeral")
	require.NoError(t, err)
}
