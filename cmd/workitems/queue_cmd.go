package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/workitems/internal/inspect"
	"github.com/mattjoyce/workitems/internal/queue"
	"github.com/mattjoyce/workitems/internal/workitem"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runQueueNoun(args []string) int {
	if len(args) < 1 {
		printQueueHelp()
		return 1
	}
	if isHelpToken(args[0]) {
		printQueueHelp()
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	if hasHelpFlag(actionArgs) {
		printQueueHelp()
		return 0
	}

	switch action {
	case "add":
		return runQueueAdd(actionArgs)
	case "list":
		return runQueueList(actionArgs)
	case "inspect":
		return runQueueInspect(actionArgs)
	case "cleanup":
		return runQueueCleanup(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown queue action: %s\n", action)
		return 1
	}
}

func printQueueHelp() {
	fmt.Print(`Usage: workitems queue <action> [flags]

Actions:
  add       --workspace WS [--payload JSON] [--file PATH]...
  list      [--workspace WS] [--state STATE] [--limit N] [--json]
  inspect   ID [--json]
  cleanup   [--older-than DURATION] [--json]

Common flags:
  --config PATH      configuration file
  --db PATH          queue database (server.state.path)
  --files-dir DIR    file store (server.files_dir)
`)
}

func runQueueAdd(args []string) int {
	var sf storeFlags
	var files stringList
	fs := flag.NewFlagSet("queue add", flag.ContinueOnError)
	sf.register(fs)
	ws := fs.String("workspace", "", "Workspace to enqueue into")
	payload := fs.String("payload", "{}", "JSON object payload")
	fs.Var(&files, "file", "Attach a file (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *ws == "" {
		fmt.Fprintln(os.Stderr, "Usage: workitems queue add --workspace WS [--payload JSON] [--file PATH]...")
		return 1
	}
	if !json.Valid([]byte(*payload)) {
		fmt.Fprintf(os.Stderr, "Invalid --payload: not valid JSON\n")
		return 1
	}

	cfg, err := sf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	stack, err := openQueueStack(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer func() { _ = stack.Close() }()

	id, err := stack.queue.Enqueue(ctx, queue.EnqueueRequest{Workspace: *ws, Payload: json.RawMessage(*payload)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enqueue failed: %v\n", err)
		return 1
	}
	for _, path := range files {
		if err := attachFile(ctx, stack, id, path); err != nil {
			fmt.Fprintf(os.Stderr, "Attach %s failed: %v\n", path, err)
			return 1
		}
	}
	fmt.Println(id)
	return 0
}

func attachFile(ctx context.Context, stack *queueStack, itemID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	blob, err := stack.blobs.Put(ctx, itemID, filepath.Base(path), f)
	if err != nil {
		return err
	}
	return stack.queue.PutFile(ctx, itemID, blob.Name, blob.Size, blob.Digest)
}

type listEntry struct {
	ID         string              `json:"id"`
	Workspace  string              `json:"workspace"`
	Kind       workitem.Kind       `json:"kind"`
	ParentID   string              `json:"parent_id,omitempty"`
	Status     queue.Status        `json:"status"`
	RunID      string              `json:"run_id,omitempty"`
	Exception  *workitem.Exception `json:"exception,omitempty"`
	Payload    json.RawMessage     `json:"payload"`
	CreatedAt  time.Time           `json:"created_at"`
	ReleasedAt *time.Time          `json:"released_at,omitempty"`
}

func runQueueList(args []string) int {
	var sf storeFlags
	fs := flag.NewFlagSet("queue list", flag.ContinueOnError)
	sf.register(fs)
	ws := fs.String("workspace", "", "Only items of this workspace")
	state := fs.String("state", "", "Filter by status (pending, reserved, done, failed, created) or state (DONE, FAILED)")
	limit := fs.Int("limit", 100, "Maximum rows")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	filter := queue.ListFilter{Workspace: *ws, Limit: *limit}
	if *state != "" {
		st, err := queue.ParseStatus(*state)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --state: %v\n", err)
			return 1
		}
		filter.Status = st
	}

	cfg, err := sf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	stack, err := openQueueStack(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer func() { _ = stack.Close() }()

	items, err := stack.queue.List(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}

	entries := make([]listEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, toListEntry(it))
	}

	if *jsonOut {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No work items.")
		return 0
	}
	fmt.Println(renderItemTable(entries, stdoutIsTerminal()))
	return 0
}

func toListEntry(it queue.Item) listEntry {
	e := listEntry{
		ID:         it.ID,
		Workspace:  it.Workspace,
		Kind:       it.Kind,
		Status:     it.Status,
		Exception:  it.Exception,
		Payload:    it.Payload,
		CreatedAt:  it.CreatedAt,
		ReleasedAt: it.ReleasedAt,
	}
	if it.ParentID != nil {
		e.ParentID = *it.ParentID
	}
	if it.RunID != nil {
		e.RunID = *it.RunID
	}
	return e
}

func runQueueInspect(args []string) int {
	var sf storeFlags
	fs := flag.NewFlagSet("queue inspect", flag.ContinueOnError)
	sf.register(fs)
	jsonOut := fs.Bool("json", false, "Output JSON")

	itemID, rest := splitPositional(args)
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if itemID == "" && fs.NArg() == 1 {
		itemID = fs.Arg(0)
	} else if fs.NArg() > 0 {
		itemID = ""
	}
	if itemID == "" {
		fmt.Fprintln(os.Stderr, "Usage: workitems queue inspect ID [--json]")
		return 1
	}

	cfg, err := sf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	stack, err := openQueueStack(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer func() { _ = stack.Close() }()

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, stack.queue, stack.blobs, itemID)
	} else {
		out, err = inspect.BuildReport(ctx, stack.queue, stack.blobs, itemID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Println(strings.TrimRight(out, "\n"))
	return 0
}

func runQueueCleanup(args []string) int {
	var sf storeFlags
	fs := flag.NewFlagSet("queue cleanup", flag.ContinueOnError)
	sf.register(fs)
	olderThan := fs.Duration("older-than", 0, "Prune released items older than this (default server.file_retention)")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := sf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	age := *olderThan
	if age == 0 {
		age = cfg.Server.FileRetention
	}
	if age <= 0 {
		fmt.Fprintln(os.Stderr, "--older-than must be positive")
		return 1
	}

	ctx := context.Background()
	stack, err := openQueueStack(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer func() { _ = stack.Close() }()

	report, err := pruneReleased(ctx, stack, age)
	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("Pruned %d work item(s), %d orphan file director(ies)\n", report.Items, report.OrphanDirs)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup incomplete: %v\n", err)
		return 1
	}
	return 0
}
