package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/merge"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	Workspace string
	Document  string
	Existing  string
	Output    string
}

// MergeResult summarizes a merge.
type MergeResult struct {
	Document string `json:"document"`
	Inputs   int    `json:"inputs"`
	Bytes    int    `json:"bytes"`
	Output   string `json:"output"`
}

func (r MergeResult) String() string {
	return fmt.Sprintf("merged %d input(s) for %s into %s (%d bytes)", r.Inputs, r.Document, r.Output, r.Bytes)
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge <update>...",
		Short: "Merge update payloads into one snapshot",
		Long: `Merge binary update payloads, optionally on top of an existing snapshot,
into one canonical snapshot.

Without --output the snapshot bytes are written to stdout.

Examples:
  weave merge --existing snap.bin -o snap.bin u1.bin u2.bin
  weave merge u1.bin u2.bin > merged.bin`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Workspace, "workspace", "default", "workspace the document belongs to")
	cmd.Flags().StringVar(&opts.Document, "doc", "document", "document name")
	cmd.Flags().StringVar(&opts.Existing, "existing", "", "existing snapshot to merge into")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the snapshot to this file")

	return cmd
}

func runMerge(opts *MergeOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	key := merge.Key{Workspace: opts.Workspace, Document: opts.Document}

	var existing []byte
	if opts.Existing != "" {
		data, err := readPayload(opts.Existing, cmd.InOrStdin())
		if err != nil {
			return f.Fail(ExitCommandError, "failed to read snapshot", err)
		}
		existing = data
	}
	updates := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := readPayload(p, cmd.InOrStdin())
		if err != nil {
			return f.Fail(ExitCommandError, "failed to read update", err)
		}
		f.VerboseLog("read %s (%d bytes)", p, len(data))
		updates = append(updates, data)
	}

	m := merge.New(
		merge.WithLogger(opts.Logger),
		merge.WithHistoryCapacity(opts.Config.Merge.HistoryCapacity),
	)
	snapshot, err := m.Merge(cmd.Context(), key, existing, updates)
	if err != nil {
		return f.Fail(ExitFailure, "merge failed", err)
	}

	if err := writePayload(opts.Output, cmd.OutOrStdout(), snapshot); err != nil {
		return f.Fail(ExitCommandError, "failed to write snapshot", err)
	}
	if opts.Output == "" {
		return nil
	}
	return f.Success(MergeResult{
		Document: key.String(),
		Inputs:   len(updates),
		Bytes:    len(snapshot),
		Output:   opts.Output,
	})
}
