package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/doc"
)

// runCLI executes the root command with args and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("WEAVE_REDIS_URL", "")

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeUpdate records the full state of a fresh replica after body runs.
func writeUpdate(t *testing.T, dir, name, replica string, body func(tx *doc.Transaction) error) string {
	t.Helper()

	d, err := doc.New(replica)
	require.NoError(t, err)
	require.NoError(t, d.Transact("test", body))
	data, err := d.EncodeStateAsUpdate(nil)
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func insertText(container string, index int, s string) func(tx *doc.Transaction) error {
	return func(tx *doc.Transaction) error {
		return tx.Text(container).Insert(index, s)
	}
}

// loadText replays a payload into a fresh document and reads one text.
func loadText(t *testing.T, payload []byte, container string) string {
	t.Helper()

	d, err := doc.New("reader")
	require.NoError(t, err)
	require.NoError(t, d.ApplyUpdate(payload, "test"))
	return d.GetText(container)
}
