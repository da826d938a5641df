package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/workitems/internal/adapters"
	"github.com/mattjoyce/workitems/internal/config"
	"github.com/mattjoyce/workitems/internal/inspect"
	"github.com/mattjoyce/workitems/internal/queue"
	"github.com/mattjoyce/workitems/internal/storage"
	"github.com/mattjoyce/workitems/internal/workitem"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()
	origVersion, origCommit, origBuildDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built
	t.Cleanup(func() {
		version, gitCommit, buildDate = origVersion, origCommit, origBuildDate
	})
}

func storeArgs(dir string) []string {
	return []string{"--db", filepath.Join(dir, "workitems.db"), "--files-dir", filepath.Join(dir, "files")}
}

func TestRunVersionJSONOutputIncludesMetadata(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef", "2026-03-01T10:11:12Z")

	code, stdout, stderr := runCaptured(t, "version", "--json")
	require.Equal(t, 0, code, stderr)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, versionInfo{Version: "1.2.3", Commit: "0123456789ab", BuildTime: "2026-03-01T10:11:12Z"}, info)
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := runCaptured(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	code, stdout, _ := runCaptured(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "queue add")
}

func TestQueueAddAndList(t *testing.T) {
	dir := t.TempDir()
	attachment := filepath.Join(dir, "invoice.pdf")
	require.NoError(t, os.WriteFile(attachment, []byte("%PDF"), 0o644))

	args := append([]string{"queue", "add", "--workspace", "acme", "--payload", `{"user":"Dude"}`, "--file", attachment}, storeArgs(dir)...)
	code, stdout, stderr := runCaptured(t, args...)
	require.Equal(t, 0, code, stderr)
	id := strings.TrimSpace(stdout)
	require.NotEmpty(t, id)

	args = append([]string{"queue", "add", "--workspace", "other"}, storeArgs(dir)...)
	code, _, stderr = runCaptured(t, args...)
	require.Equal(t, 0, code, stderr)

	args = append([]string{"queue", "list", "--workspace", "acme", "--state", "pending", "--json"}, storeArgs(dir)...)
	code, stdout, stderr = runCaptured(t, args...)
	require.Equal(t, 0, code, stderr)

	var entries []listEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, queue.StatusPending, entries[0].Status)
	assert.JSONEq(t, `{"user":"Dude"}`, string(entries[0].Payload))

	args = append([]string{"queue", "list"}, storeArgs(dir)...)
	code, stdout, stderr = runCaptured(t, args...)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, id)
	assert.Contains(t, stdout, "WORKSPACE")
	assert.Contains(t, stdout, "other")

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(dir, "workitems.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	files, err := queue.New(db).ListFiles(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "invoice.pdf", files[0].Name)
	assert.Equal(t, int64(4), files[0].Size)
	_, err = os.Stat(filepath.Join(dir, "files", id, "invoice.pdf"))
	assert.NoError(t, err)
}

func TestQueueAddValidation(t *testing.T) {
	dir := t.TempDir()

	code, _, stderr := runCaptured(t, append([]string{"queue", "add"}, storeArgs(dir)...)...)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--workspace")

	code, _, stderr = runCaptured(t, append([]string{"queue", "add", "--workspace", "a", "--payload", "{nope"}, storeArgs(dir)...)...)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Invalid --payload")

	code, _, stderr = runCaptured(t, append([]string{"queue", "list", "--state", "sideways"}, storeArgs(dir)...)...)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Invalid --state")
}

func TestQueueCleanupPrunesReleasedItems(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := config.Defaults()
	cfg.Server.State.Path = filepath.Join(dir, "workitems.db")
	cfg.Server.FilesDir = filepath.Join(dir, "files")
	stack, err := openQueueStack(ctx, cfg)
	require.NoError(t, err)

	done, err := stack.queue.Enqueue(ctx, queue.EnqueueRequest{Workspace: "ws"})
	require.NoError(t, err)
	pending, err := stack.queue.Enqueue(ctx, queue.EnqueueRequest{Workspace: "ws"})
	require.NoError(t, err)
	for _, id := range []string{done, pending} {
		blob, err := stack.blobs.Put(ctx, id, "a.txt", strings.NewReader("x"))
		require.NoError(t, err)
		require.NoError(t, stack.queue.PutFile(ctx, id, blob.Name, blob.Size, blob.Digest))
	}
	_, err = stack.queue.Reserve(ctx, "ws", "run")
	require.NoError(t, err)
	require.NoError(t, stack.queue.Release(ctx, done, workitem.StateDone, nil))
	require.NoError(t, stack.Close())

	time.Sleep(20 * time.Millisecond)

	code, stdout, stderr := runCaptured(t, append([]string{"queue", "cleanup", "--older-than", "1ms", "--json"}, storeArgs(dir)...)...)
	require.Equal(t, 0, code, stderr)

	var report pruneReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 1, report.Items)
	assert.Equal(t, 0, report.OrphanDirs)

	_, err = os.Stat(filepath.Join(dir, "files", done))
	assert.True(t, os.IsNotExist(err), "released item files should be removed")
	_, err = os.Stat(filepath.Join(dir, "files", pending, "a.txt"))
	assert.NoError(t, err, "pending item files must survive cleanup")
}

func TestQueueInspect(t *testing.T) {
	dir := t.TempDir()
	attachment := filepath.Join(dir, "invoice.pdf")
	require.NoError(t, os.WriteFile(attachment, []byte("%PDF"), 0o644))

	code, stdout, stderr := runCaptured(t, append([]string{"queue", "add", "--workspace", "acme", "--file", attachment}, storeArgs(dir)...)...)
	require.Equal(t, 0, code, stderr)
	id := strings.TrimSpace(stdout)

	code, stdout, stderr = runCaptured(t, append([]string{"queue", "inspect", id}, storeArgs(dir)...)...)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Work Item Report")
	assert.Contains(t, stdout, "Status      : pending")
	assert.Contains(t, stdout, "invoice.pdf (4 bytes")
	assert.Contains(t, stdout, "Releases (0)")

	code, stdout, stderr = runCaptured(t, append(append([]string{"queue", "inspect"}, storeArgs(dir)...), "--json", id)...)
	require.Equal(t, 0, code, stderr)
	var report inspect.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, id, report.ID)
	assert.Equal(t, "acme", report.Workspace)
	require.Len(t, report.Files, 1)
	assert.False(t, report.Files[0].Missing)

	code, _, stderr = runCaptured(t, append([]string{"queue", "inspect", "nope"}, storeArgs(dir)...)...)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")

	code, _, stderr = runCaptured(t, append([]string{"queue", "inspect"}, storeArgs(dir)...)...)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: workitems queue inspect")
}

func TestConfigCheck(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.json")
	writeJSON(t, input, []adapters.FileRecord{{Payload: map[string]any{}}})

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
server:
  api_key: admin
  state:
    path: `+filepath.Join(dir, "workitems.db")+`
  files_dir: `+filepath.Join(dir, "files")+`
  pid_file: `+filepath.Join(dir, "workitems.pid")+`
adapter:
  file:
    input_path: `+input+`
`), 0o644))

	code, stdout, stderr := runCaptured(t, "config", "check", "--config", good)
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Configuration valid")
	assert.Contains(t, stdout, "adapter: file")

	code, _, _ = runCaptured(t, "config", "check", "--config", good, "--strict")
	assert.Equal(t, 2, code, "missing output path is a warning")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
server:
  tokens:
    - token: t1
      scopes: [items:write]
`), 0o644))
	code, stdout, _ = runCaptured(t, "config", "check", "--config", bad, "--format", "json")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, `"valid": false`)
	assert.Contains(t, stdout, "unknown scope")
}

func TestConfigGetSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  api_key: admin\n"), 0o644))

	code, stdout, stderr := runCaptured(t, "config", "get", "server.listen", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "127.0.0.1:8080", strings.TrimSpace(stdout))

	code, stdout, stderr = runCaptured(t, "config", "set", "server.listen=0.0.0.0:9000", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Set server.listen = 0.0.0.0:9000")

	code, stdout, _ = runCaptured(t, "config", "get", "--config", path, "server.listen")
	assert.Equal(t, 0, code)
	assert.Equal(t, "0.0.0.0:9000", strings.TrimSpace(stdout))

	code, stdout, _ = runCaptured(t, "config", "get", "server.state", "--config", path)
	assert.Equal(t, 0, code)
	assert.JSONEq(t, `{"path":"./data/workitems.db"}`, stdout)

	code, _, stderr = runCaptured(t, "config", "set", "adapter.kind=ftp", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "validation failed")

	code, _, stderr = runCaptured(t, "config", "set", "server.listen=x")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--config is required")
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readRecords(t *testing.T, path string) []adapters.FileRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []adapters.FileRecord
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func TestRunScriptWithFileAdapter(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.json")
	output := filepath.Join(dir, "output.json")
	writeJSON(t, input, []map[string]any{
		{"payload": map[string]any{"user": "Dude"}},
		{"payload": map[string]any{"user": "Walter"}},
	})
	script := filepath.Join(dir, "steps.yaml")
	require.NoError(t, os.WriteFile(script, []byte(`
- for_each:
    steps:
      - keyword: Get Work Item Variable
        args: {name: user}
      - keyword: Create Output Work Item
        args:
          variables: {processed: true}
          save: true
`), 0o644))

	t.Setenv(config.EnvInputPath, input)
	t.Setenv(config.EnvOutputPath, output)
	t.Setenv(config.EnvRemoteHost, "")

	code, stdout, stderr := runCaptured(t, "run", "--script", script)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"result":"Dude"`)
	assert.Contains(t, stdout, `"result":"Walter"`)

	outputs := readRecords(t, output)
	require.Len(t, outputs, 2)
	assert.Equal(t, map[string]any{"processed": true}, outputs[0].Payload)

	inputs := readRecords(t, input)
	require.Len(t, inputs, 2)
	for _, rec := range inputs {
		assert.Equal(t, workitem.StateDone, rec.State)
	}
}

func TestExecuteScriptFailStep(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.json")
	writeJSON(t, input, []map[string]any{{"payload": map[string]any{}}})

	adapter, err := adapters.NewFileAdapter(adapters.FileOptions{InputPath: input})
	require.NoError(t, err)
	lib := workitem.New(adapter, workitem.DefaultOptions())

	steps, err := parseScript([]byte(`
- keyword: get input work item
- fail: {type: business, code: NO_USER, message: user missing}
`))
	require.NoError(t, err)

	var out bytes.Buffer
	err = executeScript(context.Background(), lib, steps, &out)
	require.Error(t, err)
	var ie *workitem.ItemError
	require.ErrorAs(t, err, &ie)

	records := readRecords(t, input)
	assert.Equal(t, workitem.StateFailed, records[0].State)
	require.NotNil(t, records[0].Exception)
	assert.Equal(t, workitem.ExceptionBusiness, records[0].Exception.Type)
	assert.Equal(t, "NO_USER", records[0].Exception.Code)
}

func TestExecuteScriptKeywordErrorReleasesFailed(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.json")
	writeJSON(t, input, []map[string]any{{"payload": map[string]any{}}})

	adapter, err := adapters.NewFileAdapter(adapters.FileOptions{InputPath: input})
	require.NoError(t, err)
	lib := workitem.New(adapter, workitem.DefaultOptions())

	steps, err := parseScript([]byte(`
- keyword: get input work item
- keyword: get work item variable
  args: {name: order_id}
`))
	require.NoError(t, err)

	var out bytes.Buffer
	err = executeScript(context.Background(), lib, steps, &out)
	require.ErrorIs(t, err, workitem.ErrVariableNotFound)

	records := readRecords(t, input)
	assert.Equal(t, workitem.StateFailed, records[0].State)
	require.NotNil(t, records[0].Exception)
	assert.Equal(t, workitem.ExceptionApplication, records[0].Exception.Type)
	assert.Contains(t, records[0].Exception.Message, "order_id")
}

func TestParseScriptValidation(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "unknown keyword", script: `- keyword: Launch Rocket`, want: "unknown keyword"},
		{name: "two actions", script: "- keyword: Save Work Item\n  fail: {type: BUSINESS}", want: "exactly one"},
		{name: "empty step", script: `- {}`, want: "exactly one"},
		{name: "bad fail type", script: `- fail: {type: OOPS}`, want: "invalid exception type"},
		{name: "nested unknown", script: "- for_each:\n    steps:\n      - keyword: Nope", want: "steps[0].for_each.steps[0]"},
		{name: "not a list", script: `keyword: x`, want: "parse script"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScript([]byte(tt.script))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestServeRefusesWithoutCredentials(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := runCaptured(t, append([]string{"serve"}, storeArgs(dir)...)...)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "server.api_key")
}
