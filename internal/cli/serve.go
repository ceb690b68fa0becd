package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inklet/inklet/internal/config"
	"github.com/inklet/inklet/internal/docstore"
	"github.com/inklet/inklet/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr  string
	Store string
	DB    string
	DSN   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reference sync service",
		Long: `Start the HTTP sync service clients save documents to.

Documents live in the selected backend: an in-memory map for
experiments, SQLite for a single-node setup, or PostgreSQL.

Examples:
  inklet serve
  inklet serve --addr :9000
  inklet serve --store sqlite --db ./docs.db
  inklet serve --store postgres --dsn postgres://localhost/inklet`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Store, "store", "", "document backend: memory, sqlite or postgres")
	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite database path (with --store sqlite)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "PostgreSQL connection string (with --store postgres)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	log := commandLogger(opts.RootOptions)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	applyServeOverrides(cfg, opts)

	store, err := openStore(cfg.Server)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	log.Info("store ready", "backend", cfg.Server.Store)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Sync service listening on %s (%s store). Press Ctrl-C to stop.\n",
		cfg.Server.Addr, cfg.Server.Store)

	srv := server.New(store, server.WithLogger(log))
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

// applyServeOverrides lets flags win over the config file.
func applyServeOverrides(cfg *config.Config, opts *ServeOptions) {
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Store != "" {
		cfg.Server.Store = opts.Store
	}
	if opts.DB != "" {
		cfg.Server.DB = opts.DB
	}
	if opts.DSN != "" {
		cfg.Server.DSN = opts.DSN
	}
}

// openStore builds the configured backend. The caller owns Close.
func openStore(cfg config.ServerConfig) (docstore.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return docstore.NewMemory(), nil
	case "sqlite":
		if cfg.DB == "" {
			return nil, fmt.Errorf("--db is required with the sqlite store")
		}
		return docstore.OpenSQLite(cfg.DB)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("--dsn is required with the postgres store")
		}
		return docstore.OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}
