// Package inspect builds the history report for a single work item.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/workitems/internal/queue"
	"github.com/mattjoyce/workitems/internal/workitem"
	"github.com/mattjoyce/workitems/internal/workspace"
)

// Source is the slice of the queue a report reads from.
type Source interface {
	Get(ctx context.Context, id string) (*queue.Item, error)
	List(ctx context.Context, f queue.ListFilter) ([]queue.Item, error)
	ListFiles(ctx context.Context, itemID string) ([]queue.FileInfo, error)
	Log(ctx context.Context, itemID string) ([]queue.LogEntry, error)
}

// Report is the structured JSON representation of an item report.
type Report struct {
	ID         string              `json:"id"`
	Workspace  string              `json:"workspace"`
	Kind       workitem.Kind       `json:"kind"`
	Status     queue.Status        `json:"status"`
	ParentID   string              `json:"parent_id,omitempty"`
	RunID      string              `json:"run_id,omitempty"`
	Exception  *workitem.Exception `json:"exception,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	ReservedAt *time.Time          `json:"reserved_at,omitempty"`
	ReleasedAt *time.Time          `json:"released_at,omitempty"`
	Payload    json.RawMessage     `json:"payload"`
	Files      []File              `json:"files"`
	Outputs    []Output            `json:"outputs,omitempty"`
	Releases   []Release           `json:"releases"`
}

// File is one indexed attachment; Missing marks an index row with no bytes on disk.
type File struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Digest  string `json:"digest"`
	Missing bool   `json:"missing,omitempty"`
}

type Output struct {
	ID      string          `json:"id"`
	Status  queue.Status    `json:"status"`
	Payload json.RawMessage `json:"payload"`
	Files   []File          `json:"files"`
}

type Release struct {
	State      workitem.State      `json:"state"`
	RunID      string              `json:"run_id,omitempty"`
	Exception  *workitem.Exception `json:"exception,omitempty"`
	ReservedAt *time.Time          `json:"reserved_at,omitempty"`
	ReleasedAt time.Time           `json:"released_at"`
}

// BuildReport renders a terminal-friendly report for a work item.
func BuildReport(ctx context.Context, src Source, blobs workspace.Store, itemID string) (string, error) {
	report, err := gatherReportData(ctx, src, blobs, itemID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Work Item Report\n")
	fmt.Fprintf(&out, "ID          : %s\n", report.ID)
	fmt.Fprintf(&out, "Workspace   : %s\n", report.Workspace)
	fmt.Fprintf(&out, "Kind        : %s\n", report.Kind)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Parent      : %s\n", renderUnset(report.ParentID, "<none>"))
	fmt.Fprintf(&out, "Run         : %s\n", renderUnset(report.RunID, "<none>"))
	fmt.Fprintf(&out, "Created     : %s\n", report.CreatedAt.Format(time.RFC3339))
	if report.Exception != nil {
		fmt.Fprintf(&out, "Exception   : %s\n", renderException(report.Exception))
	}
	fmt.Fprintf(&out, "Payload     :\n")
	writeIndented(&out, prettyJSON(report.Payload), "  ")
	writeFiles(&out, "Files", report.Files, "")

	if report.Kind == workitem.KindInput {
		fmt.Fprintf(&out, "\nOutputs (%d)\n", len(report.Outputs))
		for i, o := range report.Outputs {
			fmt.Fprintf(&out, "[%d] %s (%s)\n", i+1, o.ID, o.Status)
			writeIndented(&out, prettyJSON(o.Payload), "    ")
			writeFiles(&out, "    files", o.Files, "    ")
		}
	}

	fmt.Fprintf(&out, "\nReleases (%d)\n", len(report.Releases))
	for _, r := range report.Releases {
		line := fmt.Sprintf("%s %s", r.ReleasedAt.Format(time.RFC3339), r.State)
		if r.RunID != "" {
			line += " run=" + r.RunID
		}
		if r.Exception != nil {
			line += " " + renderException(r.Exception)
		}
		fmt.Fprintf(&out, "  %s\n", line)
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable report.
func BuildJSONReport(ctx context.Context, src Source, blobs workspace.Store, itemID string) (string, error) {
	report, err := gatherReportData(ctx, src, blobs, itemID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, blobs workspace.Store, itemID string) (*Report, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, fmt.Errorf("work item id is required")
	}

	item, err := src.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:         item.ID,
		Workspace:  item.Workspace,
		Kind:       item.Kind,
		Status:     item.Status,
		ParentID:   deref(item.ParentID),
		RunID:      deref(item.RunID),
		Exception:  item.Exception,
		CreatedAt:  item.CreatedAt,
		ReservedAt: item.ReservedAt,
		ReleasedAt: item.ReleasedAt,
		Payload:    item.Payload,
		Releases:   make([]Release, 0),
	}

	if report.Files, err = collectFiles(ctx, src, blobs, item.ID); err != nil {
		return nil, err
	}

	if item.Kind == workitem.KindInput {
		outputs, err := src.List(ctx, queue.ListFilter{ParentID: item.ID, Kind: workitem.KindOutput})
		if err != nil {
			return nil, fmt.Errorf("list outputs: %w", err)
		}
		for _, o := range outputs {
			files, err := collectFiles(ctx, src, blobs, o.ID)
			if err != nil {
				return nil, err
			}
			report.Outputs = append(report.Outputs, Output{ID: o.ID, Status: o.Status, Payload: o.Payload, Files: files})
		}
	}

	entries, err := src.Log(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("load release log: %w", err)
	}
	for _, e := range entries {
		report.Releases = append(report.Releases, Release{
			State:      e.State,
			RunID:      deref(e.RunID),
			Exception:  e.Exception,
			ReservedAt: e.ReservedAt,
			ReleasedAt: e.ReleasedAt,
		})
	}
	return report, nil
}

// collectFiles joins the SQLite index with what the store actually holds.
func collectFiles(ctx context.Context, src Source, blobs workspace.Store, itemID string) ([]File, error) {
	indexed, err := src.ListFiles(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", itemID, err)
	}
	present := map[string]bool{}
	if blobs != nil {
		onDisk, err := blobs.List(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("list stored files of %s: %w", itemID, err)
		}
		for _, b := range onDisk {
			present[b.Name] = true
		}
	}

	files := make([]File, 0, len(indexed))
	for _, f := range indexed {
		files = append(files, File{
			Name:    f.Name,
			Size:    f.Size,
			Digest:  f.Digest,
			Missing: blobs != nil && !present[f.Name],
		})
	}
	return files, nil
}

func writeFiles(out *strings.Builder, label string, files []File, indent string) {
	if len(files) == 0 {
		fmt.Fprintf(out, "%-12s: <none>\n", label)
		return
	}
	fmt.Fprintf(out, "%-12s:\n", label)
	for _, f := range files {
		line := fmt.Sprintf("%s  - %s (%d bytes, %s)", indent, f.Name, f.Size, f.Digest)
		if f.Missing {
			line += " MISSING"
		}
		fmt.Fprintln(out, line)
	}
}

func writeIndented(out *strings.Builder, text, indent string) {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		fmt.Fprintf(out, "%s%s\n", indent, line)
	}
}

func renderException(e *workitem.Exception) string {
	s := string(e.Type)
	if e.Code != "" {
		s += "/" + e.Code
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
