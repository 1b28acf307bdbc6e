package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/codec"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	StoreOptions
	Compact bool
}

// ApplyResult summarizes stored updates.
type ApplyResult struct {
	Document  string   `json:"document"`
	Stored    int      `json:"stored"`
	Duplicate int      `json:"duplicate"`
	IDs       []string `json:"ids"`
	Version   int64    `json:"snapshot_version,omitempty"`
}

func (r ApplyResult) String() string {
	s := fmt.Sprintf("stored %d update(s) for %s (%d duplicate)", r.Stored, r.Document, r.Duplicate)
	if r.Version > 0 {
		s += fmt.Sprintf("; compacted to snapshot v%d", r.Version)
	}
	return s
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <update>...",
		Short: "Append update payloads to a document's pending log",
		Long: `Validate update payloads and append them to a document's pending
update log. Appending the same payload twice is a no-op.

When Redis broadcasting is enabled every newly stored update is published.
--compact folds the pending log into the snapshot afterwards.

Example:
  weave apply --db weave.db --workspace acme --doc notes u1.bin u2.bin --compact`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace the document belongs to (required)")
	cmd.Flags().StringVar(&opts.Document, "doc", "", "document name (required)")
	cmd.Flags().BoolVar(&opts.Compact, "compact", false, "compact the document after appending")

	return cmd
}

func runApply(opts *ApplyOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if err := requireDocument(&opts.StoreOptions); err != nil {
		return err
	}
	key := opts.key()

	payloads := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := readPayload(p, cmd.InOrStdin())
		if err != nil {
			return f.Fail(ExitCommandError, "failed to read update", err)
		}
		if err := codec.Validate(data); err != nil {
			return f.Fail(ExitFailure, fmt.Sprintf("rejected %s", p), err)
		}
		payloads = append(payloads, data)
	}

	st, err := opts.openStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	pub, err := opts.publisher(ctx)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
	}

	result := ApplyResult{Document: key.String(), IDs: make([]string, 0, len(payloads))}
	for _, data := range payloads {
		id, inserted, err := st.AppendUpdate(ctx, key, data)
		if err != nil {
			return f.Fail(ExitCommandError, "failed to store update", err)
		}
		result.IDs = append(result.IDs, id)
		if !inserted {
			result.Duplicate++
			continue
		}
		result.Stored++
		if pub != nil {
			if err := pub.Publish(ctx, key, data); err != nil {
				opts.Logger.Warn("update not published", "doc", key.String(), "error", err)
			}
		}
	}
	opts.Logger.Info("updates stored", "doc", key.String(), "stored", result.Stored, "duplicate", result.Duplicate)

	if opts.Compact {
		r, err := opts.newWorker(st, pub).CompactOnce(ctx, key)
		if err != nil {
			return f.Fail(ExitFailure, "compaction failed", err)
		}
		result.Version = r.Version
	}
	return f.Success(result)
}
