package watch

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/workitems/internal/events"
)

// WorkspaceState tallies the lifecycle events seen for one workspace since
// the watch started.
type WorkspaceState struct {
	Name      string
	Enqueued  int
	Reserved  int
	Done      int
	Failed    int
	Outputs   int
	Files     int
	LastEvent time.Time
}

// InFlight is the number of reserved inputs not yet released.
func (w *WorkspaceState) InFlight() int {
	n := w.Reserved - w.Done - w.Failed
	if n < 0 {
		return 0
	}
	return n
}

func updateWorkspaceState(states map[string]*WorkspaceState, e events.Event) {
	if e.Workspace == "" {
		return
	}
	ws, ok := states[e.Workspace]
	if !ok {
		ws = &WorkspaceState{Name: e.Workspace}
		states[e.Workspace] = ws
	}
	ws.LastEvent = e.At

	switch e.Type {
	case events.ItemEnqueued:
		ws.Enqueued++
	case events.ItemReserved:
		ws.Reserved++
	case events.ItemReleased:
		var data struct {
			State string `json:"state"`
		}
		_ = json.Unmarshal(e.Data, &data)
		if data.State == "FAILED" {
			ws.Failed++
		} else {
			ws.Done++
		}
	case events.OutputCreated:
		ws.Outputs++
	case events.FileAdded:
		ws.Files++
	}
}

func sortedWorkspaces(states map[string]*WorkspaceState) []*WorkspaceState {
	out := make([]*WorkspaceState, 0, len(states))
	for _, ws := range states {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func newWorkspaceTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "WORKSPACE", Width: 20},
			{Title: "ENQ", Width: 6},
			{Title: "IN FLIGHT", Width: 9},
			{Title: "DONE", Width: 6},
			{Title: "FAILED", Width: 6},
			{Title: "OUTPUTS", Width: 7},
			{Title: "FILES", Width: 6},
			{Title: "LAST", Width: 8},
		}),
		table.WithHeight(8),
		table.WithFocused(true),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderBottom(true).BorderStyle(lipgloss.NormalBorder())
	t.SetStyles(styles)
	return t
}

func workspaceRows(states map[string]*WorkspaceState) []table.Row {
	rows := make([]table.Row, 0, len(states))
	for _, ws := range sortedWorkspaces(states) {
		rows = append(rows, table.Row{
			ws.Name,
			strconv.Itoa(ws.Enqueued),
			strconv.Itoa(ws.InFlight()),
			strconv.Itoa(ws.Done),
			strconv.Itoa(ws.Failed),
			strconv.Itoa(ws.Outputs),
			strconv.Itoa(ws.Files),
			ws.LastEvent.Format("15:04:05"),
		})
	}
	return rows
}

func renderWorkspaces(t table.Model, empty bool, theme Theme, width int) string {
	body := t.View()
	if empty {
		body = theme.Dim.Render("  No work item activity yet...")
	}
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("WORKSPACES"), body)
	return theme.Border.Width(width - 4).Render(content)
}
