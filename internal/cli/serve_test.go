package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklet/inklet/internal/config"
	"github.com/inklet/inklet/internal/docstore"
)

func TestOpenStore_Memory(t *testing.T) {
	store, err := openStore(config.ServerConfig{Store: "memory"})
	require.NoError(t, err)
	require.IsType(t, &docstore.Memory{}, store)
	require.NoError(t, store.Close())

	// Empty backend defaults to memory too.
	store, err = openStore(config.ServerConfig{})
	require.NoError(t, err)
	require.IsType(t, &docstore.Memory{}, store)
	require.NoError(t, store.Close())
}

func TestOpenStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")

	store, err := openStore(config.ServerConfig{Store: "sqlite", DB: path})
	require.NoError(t, err)
	require.IsType(t, &docstore.SQLite{}, store)

	_, err = store.Create(context.Background(), "doc-1", "hello")
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestOpenStore_RequiredSettings(t *testing.T) {
	_, err := openStore(config.ServerConfig{Store: "sqlite"})
	require.ErrorContains(t, err, "--db is required")

	_, err = openStore(config.ServerConfig{Store: "postgres"})
	require.ErrorContains(t, err, "--dsn is required")

	_, err = openStore(config.ServerConfig{Store: "redis"})
	require.ErrorContains(t, err, "unknown store backend")
}

func TestApplyServeOverrides(t *testing.T) {
	cfg := config.Default()
	opts := &ServeOptions{
		RootOptions: &RootOptions{},
		Addr:        ":9000",
		Store:       "sqlite",
		DB:          "/tmp/docs.db",
	}

	applyServeOverrides(cfg, opts)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Server.Store)
	assert.Equal(t, "/tmp/docs.db", cfg.Server.DB)

	// Unset flags leave the config alone.
	cfg2 := config.Default()
	applyServeOverrides(cfg2, &ServeOptions{RootOptions: &RootOptions{}})
	assert.Equal(t, config.Default(), cfg2)
}

func TestServeCommand_StartsAndStops(t *testing.T) {
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"serve", "--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve command did not stop on cancellation")
	}
	assert.Contains(t, buf.String(), "Sync service listening")
}

func TestServeCommand_UnknownStore(t *testing.T) {
	_, err := executeCommand(t, "serve", "--store", "redis")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown store backend")
}
