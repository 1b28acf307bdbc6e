package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/clock"
	"github.com/roach88/weave/internal/codec"
	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/op"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Dump  bool
	State bool
}

// InspectResult describes a decoded update.
type InspectResult struct {
	Count       int               `json:"count"`
	Operations  []string          `json:"operations"`
	StateVector clock.StateVector `json:"state_vector,omitempty"`
	State       json.RawMessage   `json:"state,omitempty"`
	Pending     int               `json:"pending,omitempty"`

	dump string
}

func (r InspectResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d operation(s)\n", r.Count)
	for _, o := range r.Operations {
		fmt.Fprintf(&b, "  %s\n", o)
	}
	if r.State != nil {
		fmt.Fprintf(&b, "state: %s\n", r.State)
		fmt.Fprintf(&b, "state vector: %v\n", r.StateVector)
		if r.Pending > 0 {
			fmt.Fprintf(&b, "pending: %d\n", r.Pending)
		}
	}
	if r.dump != "" {
		b.WriteString(r.dump)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <update>",
		Short: "Decode an update payload and list its operations",
		Long: `Decode a binary update payload and list its operations.

--state replays the payload into an empty document and prints the resulting
canonical state. --dump prints every decoded field, for debugging.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Dump, "dump", false, "dump decoded operations in full")
	cmd.Flags().BoolVar(&opts.State, "state", false, "replay into an empty document and print its state")

	return cmd
}

func runInspect(opts *InspectOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	data, err := readPayload(path, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, "failed to read update", err)
	}
	ops, err := codec.DecodeUpdate(data)
	if err != nil {
		return f.Fail(ExitFailure, "failed to decode update", err)
	}

	result := InspectResult{Count: len(ops), Operations: make([]string, len(ops))}
	for i, o := range ops {
		result.Operations[i] = o.String()
	}
	if opts.Dump {
		result.dump = dumpOperations(ops)
	}

	if opts.State {
		d, err := doc.New(merge.ScratchReplica, doc.WithLogger(opts.Logger))
		if err != nil {
			return f.Fail(ExitFailure, "failed to create document", err)
		}
		if err := d.ApplyUpdate(data, "inspect"); err != nil {
			return f.Fail(ExitFailure, "failed to apply update", err)
		}
		state, err := d.CanonicalJSON()
		if err != nil {
			return f.Fail(ExitFailure, "failed to render state", err)
		}
		result.State = state
		result.StateVector = d.StateVector()
		result.Pending = d.PendingCount()
	}

	return f.Success(result)
}

func dumpOperations(ops []op.Operation) string {
	sq := litter.Options{
		HidePrivateFields: true,
		StripPackageNames: true,
	}
	return sq.Sdump(ops)
}
