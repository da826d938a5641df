package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/workitems/internal/queue"
	"github.com/mattjoyce/workitems/internal/storage"
	"github.com/mattjoyce/workitems/internal/workitem"
	"github.com/mattjoyce/workitems/internal/workspace"
)

type fixture struct {
	q      *queue.Queue
	blobs  workspace.Store
	input  string
	output string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tmpDir := t.TempDir()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(tmpDir, "workitems.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	blobs, err := workspace.NewFSStore(filepath.Join(tmpDir, "files"))
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	ctx := context.Background()
	q := queue.New(db)
	input, err := q.Enqueue(ctx, queue.EnqueueRequest{Workspace: "acme", Payload: json.RawMessage(`{"user":"Dude"}`)})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, "acme", "run-9"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	output, err := q.CreateOutput(ctx, input, json.RawMessage(`{"ok":true}`))
	if err != nil {
		t.Fatalf("CreateOutput: %v", err)
	}
	blob, err := blobs.Put(ctx, output, "result.txt", strings.NewReader("done"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := q.PutFile(ctx, output, blob.Name, blob.Size, blob.Digest); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	// Indexed but never written to the store.
	if err := q.PutFile(ctx, input, "ghost.csv", 10, "blake3:00"); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	exc := &workitem.Exception{Type: workitem.ExceptionBusiness, Code: "E7", Message: "no such user"}
	if err := q.Release(ctx, input, workitem.StateFailed, exc); err != nil {
		t.Fatalf("Release: %v", err)
	}
	return fixture{q: q, blobs: blobs, input: input, output: output}
}

func TestBuildReportRendersOutputsFilesAndReleases(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	out, err := BuildReport(context.Background(), f.q, f.blobs, f.input)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, needle := range []string{
		"Work Item Report",
		"ID          : " + f.input,
		"Workspace   : acme",
		"Status      : FAILED",
		"Run         : run-9",
		"Exception   : BUSINESS/E7: no such user",
		`"user": "Dude"`,
		"ghost.csv (10 bytes, blake3:00) MISSING",
		"Outputs (1)",
		"[1] " + f.output + " (created)",
		"result.txt (4 bytes, blake3:",
		"Releases (1)",
		"FAILED run=run-9 BUSINESS/E7",
	} {
		if !strings.Contains(out, needle) {
			t.Fatalf("report missing %q:\n%s", needle, out)
		}
	}
	if strings.Count(out, "MISSING") != 1 {
		t.Fatalf("only the ghost file should be missing:\n%s", out)
	}
}

func TestBuildJSONReportForOutput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	raw, err := BuildJSONReport(context.Background(), f.q, f.blobs, f.output)
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if report.Kind != workitem.KindOutput || report.ParentID != f.input {
		t.Fatalf("unexpected report header: %#v", report)
	}
	if len(report.Outputs) != 0 {
		t.Fatalf("outputs have no outputs, got %#v", report.Outputs)
	}
	if len(report.Files) != 1 || report.Files[0].Name != "result.txt" || report.Files[0].Missing {
		t.Fatalf("unexpected files: %#v", report.Files)
	}
	if len(report.Releases) != 0 {
		t.Fatalf("outputs are never released, got %#v", report.Releases)
	}
}

func TestBuildReportErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if _, err := BuildReport(context.Background(), f.q, f.blobs, " "); err == nil {
		t.Fatal("expected error for empty id")
	}
	if _, err := BuildReport(context.Background(), f.q, f.blobs, "missing"); !errors.Is(err, queue.ErrItemNotFound) {
		t.Fatalf("want ErrItemNotFound, got %v", err)
	}
}
