package cli

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklet/inklet/internal/remote"
	"github.com/inklet/inklet/internal/testutil"
)

func TestEnsureDocument_Exists(t *testing.T) {
	st := testutil.NewScriptedTransport()
	_, err := st.Seed("doc-1", "hello")
	require.NoError(t, err)

	require.NoError(t, ensureDocument(context.Background(), st, "doc-1", "hello", false))
}

func TestEnsureDocument_MissingWithoutCreate(t *testing.T) {
	st := testutil.NewScriptedTransport()

	err := ensureDocument(context.Background(), st, "ghost", "content", false)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not found")
}

// The scripted transport cannot create documents, so asking it to is a
// command error rather than a panic.
func TestEnsureDocument_TransportWithoutCreate(t *testing.T) {
	st := testutil.NewScriptedTransport()

	err := ensureDocument(context.Background(), st, "ghost", "content", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support create")
}

func TestEnsureDocument_CreatesOverHTTP(t *testing.T) {
	ts, store := newSyncService(t)
	tr, err := remote.NewHTTPTransport(ts.URL)
	require.NoError(t, err)

	require.NoError(t, ensureDocument(context.Background(), tr, "doc-1", "seed content", true))

	doc, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "seed content", doc.Content)
}

func TestWatchCommand_SyncsFileEdits(t *testing.T) {
	ts, store := newSyncService(t)
	_, err := store.Create(context.Background(), "doc-1", "start")
	require.NoError(t, err)

	dir := t.TempDir()
	path := writeFile(t, dir, "notes.md", "start")
	cfgPath := writeFile(t, dir, "config.yaml", `engine:
  debounce: 20ms
  max_interval: 500ms
  min_save_interval: 30ms
  save_timeout: 2s
  small_patch_threshold: 1
  snapshot_ratio: 1000
`)

	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{
		"watch", path,
		"--doc", "doc-1",
		"--url", ts.URL,
		"--interval", "20ms",
		"--config", cfgPath,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("start, and more"), 0o644))

	require.Eventually(t, func() bool {
		doc, err := store.Get(context.Background(), "doc-1")
		return err == nil && doc.Content == "start, and more"
	}, 3*time.Second, 20*time.Millisecond, "file edit never reached the server")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch command did not stop on cancellation")
	}
	assert.Contains(t, buf.String(), "Watching")
}

func TestWatchCommand_MissingDocWithoutCreate(t *testing.T) {
	ts, _ := newSyncService(t)
	path := writeFile(t, t.TempDir(), "notes.md", "content")

	_, err := executeCommand(t, "watch", path, "--doc", "ghost", "--url", ts.URL)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not found")
}
