// Package watch implements the workitems watch TUI: queue health, per
// workspace lifecycle counters and the live event stream.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/workitems/internal/events"
)

// Theme holds every style the watch TUI uses.
type Theme struct {
	Done     lipgloss.Style
	Failed   lipgloss.Style
	Reserved lipgloss.Style
	Pending  lipgloss.Style
	Output   lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	PulseOn   lipgloss.Style
	PulseOff  lipgloss.Style
}

// Colours adapt to light and dark terminal backgrounds.
var (
	colDone     = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	colFailed   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	colReserved = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	colMuted    = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
	colOutput   = lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#58A6FF"}
	colAccent   = lipgloss.AdaptiveColor{Light: "#8250DF", Dark: "#BC8CFF"}
	colFaint    = lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#30363D"}
	colTitle    = lipgloss.AdaptiveColor{Light: "#1F2328", Dark: "#F0F6FC"}
)

func NewDefaultTheme() Theme {
	fg := func(c lipgloss.TerminalColor) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Theme{
		Done:     fg(colDone),
		Failed:   fg(colFailed).Bold(true),
		Reserved: fg(colReserved),
		Pending:  fg(colMuted),
		Output:   fg(colOutput),

		Border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colAccent),
		Title:     fg(colTitle).Bold(true).Padding(0, 1),
		Dim:       fg(colMuted),
		Highlight: fg(colAccent),
		PulseOn:   fg(colDone),
		PulseOff:  fg(colFaint),
	}
}

// ForEvent picks the style for an event type. failed marks a FAILED release.
func (t Theme) ForEvent(eventType string, failed bool) lipgloss.Style {
	switch eventType {
	case events.ItemReleased:
		if failed {
			return t.Failed
		}
		return t.Done
	case events.ItemReserved:
		return t.Reserved
	case events.OutputCreated, events.FileAdded:
		return t.Output
	case events.ItemEnqueued:
		return t.Highlight
	default:
		return t.Dim
	}
}
