package workitem_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/workitems/internal/workitem"
)

func TestItemVariables(t *testing.T) {
	lib, m := newMemLibrary(map[string]any{"user": "Dude", "nested": map[string]any{"a": []any{1.0, 2.0}}})
	ctx := context.Background()

	item, err := lib.GetInputWorkItem(ctx)
	require.NoError(t, err)

	v, err := item.GetVariable("user")
	require.NoError(t, err)
	assert.Equal(t, "Dude", v)

	_, err = item.GetVariable("missing")
	assert.ErrorIs(t, err, workitem.ErrVariableNotFound)

	v, err = item.GetVariableOr("missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	require.NoError(t, item.SetVariable("tuple", [2]int{1, 2}))
	require.NoError(t, item.DeleteVariables("nested", "not-there"))
	assert.True(t, item.Modified())

	// Unsaved changes must not reach the store.
	assert.Contains(t, m.records["in-0"].payload, "nested")

	require.NoError(t, item.Save(ctx))
	assert.False(t, item.Modified())
	assert.Equal(t, map[string]any{"user": "Dude", "tuple": []any{json.Number("1"), json.Number("2")}}, m.records["in-0"].payload)
}

func TestItemRejectsNonObjectPayloadForVariables(t *testing.T) {
	lib, _ := newMemLibrary([]any{"a", "b"})

	item, err := lib.GetInputWorkItem(context.Background())
	require.NoError(t, err)

	_, err = item.GetVariable("a")
	assert.ErrorIs(t, err, workitem.ErrPayloadNotObject)
	assert.Equal(t, []any{"a", "b"}, item.Payload())

	require.NoError(t, item.SetPayload(map[string]any{"a": 1}))
	v, err := item.GetVariable("a")
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), v)
}

func TestItemSetVariableRejectsUnserializable(t *testing.T) {
	lib, _ := newMemLibrary(map[string]any{})
	item, err := lib.GetInputWorkItem(context.Background())
	require.NoError(t, err)

	err = item.SetVariable("ch", make(chan int))
	assert.Error(t, err)
}

func TestItemFiles(t *testing.T) {
	lib, m := newMemLibrary(map[string]any{})
	ctx := context.Background()
	m.records["in-0"].files["existing.txt"] = []byte("old")

	dir := t.TempDir()
	src := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0o644))

	item, err := lib.GetInputWorkItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"existing.txt"}, item.Files())

	name, err := item.AddFile(src, "")
	require.NoError(t, err)
	assert.Equal(t, "report.csv", name)
	require.NoError(t, item.RemoveFile("existing.txt", false))
	assert.Equal(t, []string{"report.csv"}, item.Files())

	// Staged files are readable before save.
	got, err := item.GetFile(ctx, "report.csv", filepath.Join(dir, "copy", "report.csv"))
	require.NoError(t, err)
	b, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(b))

	err = item.RemoveFile("nope.txt", false)
	assert.ErrorIs(t, err, workitem.ErrFileNotFound)
	assert.NoError(t, item.RemoveFile("nope.txt", true))

	require.NoError(t, item.Save(ctx))
	assert.Equal(t, map[string][]byte{"report.csv": []byte("a,b\n1,2\n")}, m.records["in-0"].files)
}

func TestItemFilePatterns(t *testing.T) {
	lib, m := newMemLibrary(map[string]any{})
	ctx := context.Background()

	dir := t.TempDir()
	for _, n := range []string{"a.txt", "b.txt", "c.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0o644))
	}

	item, err := lib.GetInputWorkItem(ctx)
	require.NoError(t, err)

	added, err := item.AddFiles(filepath.Join(dir, "*.txt"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, added)
	require.NoError(t, item.Save(ctx))
	assert.Len(t, m.records["in-0"].files, 2)

	out := filepath.Join(t.TempDir(), "out")
	paths, err := item.GetFiles(ctx, "*.txt", out)
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	removed, err := item.RemoveFiles("a.*")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, removed)
	require.NoError(t, item.Save(ctx))
	assert.Equal(t, []string{"b.txt"}, item.Files())

	_, err = item.RemoveFiles("[")
	assert.Error(t, err)
}

func TestItemSetVariablesIsAllOrNothing(t *testing.T) {
	lib, _ := newMemLibrary(map[string]any{"user": "Dude"})
	item, err := lib.GetInputWorkItem(context.Background())
	require.NoError(t, err)

	err = item.SetVariables(map[string]any{"ok": "yes", "bad": func() {}})
	require.Error(t, err)
	assert.Equal(t, map[string]any{"user": "Dude"}, item.Payload())
	assert.False(t, item.Modified())
}

func TestItemPayloadIsACopy(t *testing.T) {
	lib, m := newMemLibrary(map[string]any{"user": "Dude", "tags": []any{"a"}})
	ctx := context.Background()
	item, err := lib.GetInputWorkItem(ctx)
	require.NoError(t, err)

	p := item.Payload().(map[string]any)
	p["user"] = "Walter"
	p["tags"].([]any)[0] = "z"
	vars, err := item.Variables()
	require.NoError(t, err)
	vars["user"] = "Donny"

	v, err := item.GetVariable("user")
	require.NoError(t, err)
	assert.Equal(t, "Dude", v)
	tags, err := item.GetVariable("tags")
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, tags)

	require.NoError(t, item.Save(ctx))
	require.NoError(t, item.SetVariable("user", "Maude"))
	assert.Equal(t, "Dude", m.records["in-0"].payload.(map[string]any)["user"], "saved copy is detached")
}

func TestItemKeepsLargeIntegers(t *testing.T) {
	lib, m := newMemLibrary(map[string]any{"id": json.Number("9007199254740993")})
	ctx := context.Background()
	item, err := lib.GetInputWorkItem(ctx)
	require.NoError(t, err)

	require.NoError(t, item.SetVariable("big", json.Number("18446744073709551615")))
	require.NoError(t, item.Save(ctx))

	b, err := json.Marshal(m.records["in-0"].payload)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id":9007199254740993`)
	assert.Contains(t, string(b), `"big":18446744073709551615`)
}
