package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/codec"
)

// FileValidation is the verdict for one payload.
type FileValidation struct {
	File  string `json:"file"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	for _, fv := range r.Files {
		if fv.Valid {
			fmt.Fprintf(&b, "✓ %s\n", fv.File)
		} else {
			fmt.Fprintf(&b, "✗ %s: %s\n", fv.File, fv.Error)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <update>...",
		Short: "Check that update payloads are well formed",
		Long: `Decode and validate binary update payloads without applying them.

Exit codes:
  0 - All payloads valid
  1 - One or more payloads malformed
  2 - Command error (unreadable files)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(paths))}

	for _, p := range paths {
		data, err := readPayload(p, cmd.InOrStdin())
		if err != nil {
			return f.Fail(ExitCommandError, "failed to read update", err)
		}
		fv := FileValidation{File: p, Valid: true}
		if err := codec.Validate(data); err != nil {
			fv.Valid = false
			fv.Error = err.Error()
			result.Valid = false
		}
		f.VerboseLog("validated %s: %v", p, fv.Valid)
		result.Files = append(result.Files, fv)
	}

	if err := f.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "malformed update payload")
	}
	return nil
}
