package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/workitems/internal/events"
)

const maxEventLines = 12

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	var body string
	if len(eventLog) == 0 {
		body = theme.Dim.Render("  Waiting for events...")
	} else {
		lines := make([]string, 0, maxEventLines)
		for i, e := range eventLog {
			if i >= maxEventLines {
				break
			}
			lines = append(lines, formatEvent(e, theme))
		}
		body = lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("EVENT STREAM"), body)
	return theme.Border.Width(width - 4).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	style := theme.ForEvent(e.Type, e.Type == events.ItemReleased && releasedState(e) == "FAILED")
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	return fmt.Sprintf("%s %s %-12s %s", ts, style.Render(fmt.Sprintf("%-20s", e.Type)), e.Workspace, extractEventDesc(e))
}

func releasedState(e events.Event) string {
	var data struct {
		State string `json:"state"`
	}
	_ = json.Unmarshal(e.Data, &data)
	return data.State
}

// extractEventDesc summarizes the event data in one short line.
func extractEventDesc(e events.Event) string {
	var data struct {
		ID        string `json:"id"`
		ParentID  string `json:"parent_id"`
		Run       string `json:"run"`
		State     string `json:"state"`
		Name      string `json:"name"`
		Exception *struct {
			Type string `json:"type"`
			Code string `json:"code"`
		} `json:"exception"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.ID == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	parts := []string{"[" + shortID(data.ID) + "]"}
	if data.ParentID != "" {
		parts = append(parts, "parent "+shortID(data.ParentID))
	}
	if data.Run != "" {
		parts = append(parts, "run "+data.Run)
	}
	if data.State != "" {
		parts = append(parts, data.State)
	}
	if data.Exception != nil && data.Exception.Type != "" {
		exc := data.Exception.Type
		if data.Exception.Code != "" {
			exc += "/" + data.Exception.Code
		}
		parts = append(parts, exc)
	}
	if data.Name != "" {
		parts = append(parts, data.Name)
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
