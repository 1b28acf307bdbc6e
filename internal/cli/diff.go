package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/codec"
	"github.com/roach88/weave/internal/merge"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	StateVector string
	Output      string
	StateOut    string
}

// DiffResult summarizes a diff.
type DiffResult struct {
	MissingBytes int               `json:"missing_bytes"`
	ServerState  clock.StateVector `json:"server_state_vector"`
	Output       string            `json:"output"`
}

func (r DiffResult) String() string {
	return fmt.Sprintf("%d missing byte(s) written to %s; server state %v", r.MissingBytes, r.Output, r.ServerState)
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff <snapshot>",
		Short: "Compute what a client is missing from a snapshot",
		Long: `Compute the update a client with the given state vector is missing
from a snapshot. Without --state-vector the client is assumed empty and the
whole snapshot is returned.

Without --output the missing update is written to stdout.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.StateVector, "state-vector", "", "client's encoded state vector")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the missing update to this file")
	cmd.Flags().StringVar(&opts.StateOut, "state-out", "", "write the snapshot's encoded state vector to this file")

	return cmd
}

func runDiff(opts *DiffOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	snapshot, err := readPayload(path, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, "failed to read snapshot", err)
	}
	var clientSV []byte
	if opts.StateVector != "" {
		if clientSV, err = readPayload(opts.StateVector, cmd.InOrStdin()); err != nil {
			return f.Fail(ExitCommandError, "failed to read state vector", err)
		}
	}

	m := merge.New(merge.WithLogger(opts.Logger))
	missing, serverSV, err := m.Diff(snapshot, clientSV)
	if err != nil {
		return f.Fail(ExitFailure, "diff failed", err)
	}

	if opts.StateOut != "" {
		if err := writePayload(opts.StateOut, nil, serverSV); err != nil {
			return f.Fail(ExitCommandError, "failed to write state vector", err)
		}
	}
	if err := writePayload(opts.Output, cmd.OutOrStdout(), missing); err != nil {
		return f.Fail(ExitCommandError, "failed to write update", err)
	}
	if opts.Output == "" {
		return nil
	}

	sv, err := codec.DecodeStateVector(serverSV)
	if err != nil {
		return f.Fail(ExitFailure, "diff failed", err)
	}
	return f.Success(DiffResult{
		MissingBytes: len(missing),
		ServerState:  sv,
		Output:       opts.Output,
	})
}
