package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/codec"
	"github.com/roach88/weave/internal/doc"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/store"
)

type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeResponse(t *testing.T, out string, into any) jsonResponse {
	t.Helper()
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if into != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, into))
	}
	return resp
}

func twoUpdates(t *testing.T, dir string) (string, string) {
	t.Helper()
	u1 := writeUpdate(t, dir, "u1.bin", "a", insertText("title", 0, "hello"))
	u2 := writeUpdate(t, dir, "u2.bin", "b", insertText("body", 0, "world"))
	return u1, u2
}

func TestMergeCommand_Stdout(t *testing.T) {
	dir := t.TempDir()
	u1, u2 := twoUpdates(t, dir)

	stdout, _, err := runCLI(t, "merge", u1, u2)
	require.NoError(t, err)

	assert.Equal(t, "hello", loadText(t, []byte(stdout), "title"))
	assert.Equal(t, "world", loadText(t, []byte(stdout), "body"))
}

func TestMergeCommand_OutputAndExisting(t *testing.T) {
	dir := t.TempDir()
	u1, u2 := twoUpdates(t, dir)
	snap := filepath.Join(dir, "snap.bin")

	stdout, _, err := runCLI(t, "merge", "-o", snap, u1)
	require.NoError(t, err)
	assert.Contains(t, stdout, "merged 1 input(s) for default/document")

	stdout, _, err = runCLI(t, "--format", "json", "merge", "--existing", snap, "-o", snap, u2)
	require.NoError(t, err)
	var result MergeResult
	resp := decodeResponse(t, stdout, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, result.Inputs)
	assert.Equal(t, snap, result.Output)

	data, err := os.ReadFile(snap)
	require.NoError(t, err)
	assert.Equal(t, len(data), result.Bytes)
	assert.Equal(t, "hello", loadText(t, data, "title"))
	assert.Equal(t, "world", loadText(t, data, "body"))
}

func TestMergeCommand_Malformed(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, []byte{0xff, 0xff, 0xff, 0xff}, 0o644))

	stdout, _, err := runCLI(t, "merge", "-o", filepath.Join(dir, "out.bin"), bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "merge failed")
}

func TestMergeCommand_MissingFile(t *testing.T) {
	_, _, err := runCLI(t, "merge", "/nonexistent/u.bin")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	u1, u2 := twoUpdates(t, dir)
	snap := filepath.Join(dir, "snap.bin")
	_, _, err := runCLI(t, "merge", "-o", snap, u1, u2)
	require.NoError(t, err)

	// The client already holds replica a's edit.
	client, err := doc.New("client")
	require.NoError(t, err)
	u1Data, err := os.ReadFile(u1)
	require.NoError(t, err)
	require.NoError(t, client.ApplyUpdate(u1Data, "test"))
	sv, err := client.EncodeStateVector()
	require.NoError(t, err)
	svPath := filepath.Join(dir, "client.sv")
	require.NoError(t, os.WriteFile(svPath, sv, 0o644))

	missingPath := filepath.Join(dir, "missing.bin")
	serverSVPath := filepath.Join(dir, "server.sv")
	stdout, _, err := runCLI(t, "--format", "json", "diff", "--state-vector", svPath, "-o", missingPath, "--state-out", serverSVPath, snap)
	require.NoError(t, err)

	var result DiffResult
	decodeResponse(t, stdout, &result)
	assert.Equal(t, uint64(5), result.ServerState["a"])
	assert.Equal(t, uint64(5), result.ServerState["b"])

	missing, err := os.ReadFile(missingPath)
	require.NoError(t, err)
	require.NoError(t, client.ApplyUpdate(missing, "test"))
	assert.Equal(t, "hello", client.GetText("title"))
	assert.Equal(t, "world", client.GetText("body"))

	serverSV, err := os.ReadFile(serverSVPath)
	require.NoError(t, err)
	decoded, err := codec.DecodeStateVector(serverSV)
	require.NoError(t, err)
	assert.Equal(t, result.ServerState, decoded)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	u1, _ := twoUpdates(t, dir)
	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, []byte{0xff, 0xff, 0xff, 0xff}, 0o644))

	stdout, _, err := runCLI(t, "validate", u1)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ "+u1)

	stdout, _, err = runCLI(t, "--format", "json", "validate", u1, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result ValidationResult
	decodeResponse(t, stdout, &result)
	assert.False(t, result.Valid)
	require.Len(t, result.Files, 2)
	assert.True(t, result.Files[0].Valid)
	assert.False(t, result.Files[1].Valid)
	assert.NotEmpty(t, result.Files[1].Error)
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()
	u1, _ := twoUpdates(t, dir)

	stdout, _, err := runCLI(t, "--format", "json", "inspect", "--state", u1)
	require.NoError(t, err)

	var result InspectResult
	decodeResponse(t, stdout, &result)
	assert.Equal(t, len(result.Operations), result.Count)
	assert.Positive(t, result.Count)
	assert.JSONEq(t, `{"title":"hello"}`, string(result.State))
	assert.Equal(t, uint64(5), result.StateVector["a"])
	assert.Zero(t, result.Pending)
}

func TestInspectCommand_Dump(t *testing.T) {
	dir := t.TempDir()
	u1, _ := twoUpdates(t, dir)

	stdout, _, err := runCLI(t, "inspect", "--dump", u1)
	require.NoError(t, err)
	assert.Contains(t, stdout, "operation(s)")
	assert.Contains(t, stdout, "Operation{")
}

func TestApplyCommand_StoresAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	u1, u2 := twoUpdates(t, dir)
	db := filepath.Join(dir, "weave.db")

	stdout, _, err := runCLI(t, "--format", "json", "apply", "--db", db, "--workspace", "acme", "--doc", "notes", u1, u2)
	require.NoError(t, err)
	var result ApplyResult
	decodeResponse(t, stdout, &result)
	assert.Equal(t, 2, result.Stored)
	assert.Zero(t, result.Duplicate)
	assert.Len(t, result.IDs, 2)

	stdout, _, err = runCLI(t, "--format", "json", "apply", "--db", db, "--workspace", "acme", "--doc", "notes", u1)
	require.NoError(t, err)
	result = ApplyResult{}
	decodeResponse(t, stdout, &result)
	assert.Zero(t, result.Stored)
	assert.Equal(t, 1, result.Duplicate)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	pending, err := st.PendingUpdates(context.Background(), merge.Key{Workspace: "acme", Document: "notes"})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestApplyCommand_Compact(t *testing.T) {
	dir := t.TempDir()
	u1, u2 := twoUpdates(t, dir)
	db := filepath.Join(dir, "weave.db")

	stdout, _, err := runCLI(t, "apply", "--db", db, "--workspace", "acme", "--doc", "notes", "--compact", u1, u2)
	require.NoError(t, err)
	assert.Contains(t, stdout, "compacted to snapshot v1")

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	key := merge.Key{Workspace: "acme", Document: "notes"}
	pending, err := st.PendingUpdates(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, pending)

	snap, ok, err := st.LoadSnapshot(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", loadText(t, snap.Payload, "title"))
	assert.Equal(t, "world", loadText(t, snap.Payload, "body"))
}

func TestApplyCommand_RejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, []byte{0xff, 0xff, 0xff, 0xff}, 0o644))
	db := filepath.Join(dir, "weave.db")

	_, _, err := runCLI(t, "apply", "--db", db, "--workspace", "acme", "--doc", "notes", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	_, statErr := os.Stat(db)
	assert.True(t, os.IsNotExist(statErr), "nothing is stored when a payload is rejected")
}

func TestApplyCommand_RequiresDocument(t *testing.T) {
	dir := t.TempDir()
	u1, _ := twoUpdates(t, dir)

	_, _, err := runCLI(t, "apply", "--db", filepath.Join(dir, "weave.db"), u1)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--workspace and --doc are required")
}

func TestCompactCommand_All(t *testing.T) {
	dir := t.TempDir()
	u1, u2 := twoUpdates(t, dir)
	db := filepath.Join(dir, "weave.db")

	_, _, err := runCLI(t, "apply", "--db", db, "--workspace", "acme", "--doc", "notes", u1)
	require.NoError(t, err)
	_, _, err = runCLI(t, "apply", "--db", db, "--workspace", "acme", "--doc", "todo", u1, u2)
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "--format", "json", "compact", "--db", db, "--all")
	require.NoError(t, err)

	var result CompactResult
	decodeResponse(t, stdout, &result)
	require.Len(t, result.Documents, 2)
	merged := map[string]int{}
	for _, r := range result.Documents {
		merged[r.Key.String()] = r.Merged
		assert.Equal(t, int64(1), r.Version)
	}
	assert.Equal(t, map[string]int{"acme/notes": 1, "acme/todo": 2}, merged)

	stdout, _, err = runCLI(t, "compact", "--db", db, "--all")
	require.NoError(t, err)
	assert.Contains(t, stdout, "nothing to compact")
}

func TestCompactCommand_Single(t *testing.T) {
	dir := t.TempDir()
	u1, _ := twoUpdates(t, dir)
	db := filepath.Join(dir, "weave.db")

	_, _, err := runCLI(t, "apply", "--db", db, "--workspace", "acme", "--doc", "notes", u1)
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "compact", "--db", db, "--workspace", "acme", "--doc", "notes")
	require.NoError(t, err)
	assert.Contains(t, stdout, "acme/notes: merged 1 update(s) into snapshot v1")
}
