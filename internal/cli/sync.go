package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inklet/inklet/internal/patch"
	"github.com/inklet/inklet/internal/remote"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Doc    string
	URL    string
	Create bool
}

// SyncReport describes one completed sync for JSON output.
type SyncReport struct {
	Doc     string `json:"doc"`
	Version int64  `json:"version"`
	Bytes   int    `json:"patch_bytes"`
	Action  string `json:"action"` // "saved", "created" or "up-to-date"
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <file>",
		Short: "Push a local file to the sync service once",
		Long: `Diff a local file against its server-side document and save the
patch. A stale baseline is healed by one refetch and rediff; a second
conflict fails the command.

Examples:
  inklet sync notes.md --doc notes
  inklet sync notes.md --doc notes --create
  inklet sync notes.md --doc notes --url http://sync.internal:8787`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Doc, "doc", "", "document id on the server (required)")
	cmd.Flags().StringVar(&opts.URL, "url", "", "sync service base URL (overrides config)")
	cmd.Flags().BoolVar(&opts.Create, "create", false, "create the document when it does not exist")
	_ = cmd.MarkFlagRequired("doc")

	return cmd
}

func runSync(opts *SyncOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	baseURL := cfg.Remote.BaseURL
	if opts.URL != "" {
		baseURL = opts.URL
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read file", err)
	}
	local := string(data)

	tr, err := remote.NewHTTPTransport(baseURL, remote.WithTransportLogger(commandLogger(opts.RootOptions)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build transport", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := pushFile(ctx, tr, opts.Doc, local, opts.Create)
	if err != nil {
		return err
	}

	formatter.VerboseLog("synced %s from %s", report.Doc, path)
	if opts.Format == "json" {
		return formatter.Success(report)
	}
	switch report.Action {
	case "created":
		return formatter.Success(fmt.Sprintf("created %s at version %d", report.Doc, report.Version))
	case "up-to-date":
		return formatter.Success(fmt.Sprintf("%s already up to date at version %d", report.Doc, report.Version))
	default:
		return formatter.Success(fmt.Sprintf("saved %s at version %d (%d patch bytes)", report.Doc, report.Version, report.Bytes))
	}
}

// pushFile performs the save protocol once from the CLI: fetch, diff,
// save, and on a stale baseline exactly one refetch-rediff-retry.
func pushFile(ctx context.Context, tr remote.Transport, docID, local string, create bool) (*SyncReport, error) {
	codec := patch.NewCodec()

	for attempt := 0; ; attempt++ {
		base, err := fetchOrCreate(ctx, tr, docID, local, create)
		if err != nil {
			return nil, err
		}
		if base.created {
			return &SyncReport{Doc: docID, Version: base.version, Action: "created"}, nil
		}

		p := codec.Diff(base.content, local)
		if p.Empty() {
			return &SyncReport{Doc: docID, Version: base.version, Action: "up-to-date"}, nil
		}

		res, err := tr.Save(ctx, docID, p, base.version)
		if err == nil {
			return &SyncReport{Doc: docID, Version: res.Version, Bytes: p.Size(), Action: "saved"}, nil
		}
		retryable := errors.Is(err, remote.ErrVersionConflict) || errors.Is(err, remote.ErrPatchMismatch)
		if !retryable || attempt > 0 {
			return nil, WrapExitError(ExitFailure, "save failed", err)
		}
	}
}

type baseline struct {
	content string
	version int64
	created bool
}

func fetchOrCreate(ctx context.Context, tr remote.Transport, docID, local string, create bool) (baseline, error) {
	res, err := tr.Fetch(ctx, docID)
	if err == nil {
		return baseline{content: res.Content, version: res.Version}, nil
	}
	if !errors.Is(err, remote.ErrNotFound) {
		return baseline{}, WrapExitError(ExitCommandError, "failed to fetch document", err)
	}
	if !create {
		return baseline{}, NewExitError(ExitCommandError,
			fmt.Sprintf("document %s not found (use --create to create it)", docID))
	}

	creator, ok := tr.(remote.Creator)
	if !ok {
		return baseline{}, NewExitError(ExitCommandError, "transport does not support create")
	}
	created, err := creator.Create(ctx, docID, local)
	if err != nil {
		return baseline{}, WrapExitError(ExitCommandError, "failed to create document", err)
	}
	return baseline{content: created.Content, version: created.Version, created: true}, nil
}
