package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/compactor"
	"github.com/roach88/weave/internal/store"
)

// CompactOptions holds flags for the compact command.
type CompactOptions struct {
	*RootOptions
	StoreOptions
	All      bool
	Interval time.Duration
}

// CompactResult summarizes compactions.
type CompactResult struct {
	Documents []compactor.Result `json:"documents"`
}

func (r CompactResult) String() string {
	if len(r.Documents) == 0 {
		return "nothing to compact"
	}
	var b strings.Builder
	for _, d := range r.Documents {
		fmt.Fprintf(&b, "%s: merged %d update(s) into snapshot v%d (%d bytes)\n", d.Key, d.Merged, d.Version, d.Bytes)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewCompactCommand creates the compact command.
func NewCompactCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompactOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Fold pending updates into document snapshots",
		Long: `Merge each document's pending updates into its snapshot.

With --workspace and --doc one document is compacted; with --all every
document that has pending updates. --interval keeps running, polling for
pending documents until interrupted.

Examples:
  weave compact --db weave.db --workspace acme --doc notes
  weave compact --db weave.db --all
  weave compact --db weave.db --interval 5s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace of the document to compact")
	cmd.Flags().StringVar(&opts.Document, "doc", "", "document to compact")
	cmd.Flags().BoolVar(&opts.All, "all", false, "compact every document with pending updates")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "keep compacting, polling at this interval")

	return cmd
}

func runCompact(opts *CompactOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if !opts.All && opts.Interval == 0 {
		if err := requireDocument(&opts.StoreOptions); err != nil {
			return err
		}
	}

	st, err := opts.openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	pub, err := opts.publisher(parent)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}
	w := opts.newWorker(st, pub)

	if opts.Interval > 0 {
		return runCompactLoop(parent, opts, st, w, cmd)
	}

	var result CompactResult
	if opts.All {
		result.Documents, err = w.CompactAll(parent)
	} else {
		var r compactor.Result
		r, err = w.CompactOnce(parent, opts.key())
		if r.Merged > 0 {
			result.Documents = []compactor.Result{r}
		}
	}
	if err != nil {
		return f.Fail(ExitFailure, "compaction failed", err)
	}
	if result.Documents == nil {
		result.Documents = []compactor.Result{}
	}
	return f.Success(result)
}

// runCompactLoop feeds pending documents to the worker until a signal or
// parent cancellation.
func runCompactLoop(parent context.Context, opts *CompactOptions, st *store.Store, w *compactor.Worker, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			opts.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			keys, err := st.DocumentsWithPending(ctx)
			if err != nil && ctx.Err() == nil {
				opts.Logger.Error("listing pending documents", "error", err)
			}
			for _, k := range keys {
				w.Enqueue(k)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "Compacting every %s. Press Ctrl-C to stop.\n", opts.Interval)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "compactor error", err)
	}
	opts.Logger.Info("compactor stopped gracefully")
	return nil
}
