package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inklet/inklet/internal/engine"
	"github.com/inklet/inklet/internal/remote"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Doc      string
	URL      string
	Interval time.Duration
	Create   bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Continuously sync a local file",
		Long: `Watch a local file and keep its server-side document in sync.

The file is polled for changes; every change feeds the sync engine,
which debounces bursts, defers patches not worth a request yet, and
bounds staleness with a save ceiling. Ctrl-C flushes pending edits
before exiting.

Examples:
  inklet watch notes.md --doc notes
  inklet watch notes.md --doc notes --create --interval 250ms`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Doc, "doc", "", "document id on the server (required)")
	cmd.Flags().StringVar(&opts.URL, "url", "", "sync service base URL (overrides config)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 500*time.Millisecond, "file poll interval")
	cmd.Flags().BoolVar(&opts.Create, "create", false, "create the document when it does not exist")
	_ = cmd.MarkFlagRequired("doc")

	return cmd
}

func runWatch(opts *WatchOptions, path string, cmd *cobra.Command) error {
	log := commandLogger(opts.RootOptions)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	baseURL := cfg.Remote.BaseURL
	if opts.URL != "" {
		baseURL = opts.URL
	}
	timings, err := cfg.Engine.Timings()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid engine config", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read file", err)
	}
	local := string(data)

	tr, err := remote.NewHTTPTransport(baseURL, remote.WithTransportLogger(log))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build transport", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := ensureDocument(ctx, tr, opts.Doc, local, opts.Create); err != nil {
		return err
	}

	e := engine.New(opts.Doc, tr,
		engine.WithLogger(log),
		engine.WithTimings(timings),
	)
	if err := e.Load(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load document", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx) }()

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s -> %s (every %s). Press Ctrl-C to flush and stop.\n",
		path, opts.Doc, opts.Interval)

	// Seed the engine with the file as it stands so a pre-existing local
	// delta syncs without waiting for the next edit.
	e.OnContentChanged(local)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			data, err := os.ReadFile(path)
			if err != nil {
				log.Warn("file read failed", "path", path, "error", err)
				continue
			}
			if s := string(data); s != local {
				local = s
				e.OnContentChanged(s)
			}

		case sig := <-sigChan:
			log.Info("received signal, flushing pending edits", "signal", sig)
			e.FlushNow()
			e.Stop()
			if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitFailure, "engine error", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stopped.")
			return nil

		case err := <-runDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitFailure, "engine error", err)
			}
			return nil
		}
	}
}

// ensureDocument verifies the document exists, creating it from the
// local content when asked to.
func ensureDocument(ctx context.Context, tr remote.Transport, docID, local string, create bool) error {
	_, err := tr.Fetch(ctx, docID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, remote.ErrNotFound) {
		return WrapExitError(ExitCommandError, "failed to fetch document", err)
	}
	if !create {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("document %s not found (use --create to create it)", docID))
	}
	creator, ok := tr.(remote.Creator)
	if !ok {
		return NewExitError(ExitCommandError, "transport does not support create")
	}
	if _, err := creator.Create(ctx, docID, local); err != nil {
		return WrapExitError(ExitCommandError, "failed to create document", err)
	}
	return nil
}
