package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	QueueDepth    int
	EventsDropped int64
	Connected     bool
	LastCheck     time.Time
}

// Pulse lights up on events and fades over ten seconds.
type Pulse struct {
	lit       int
	lastEvent time.Time
}

const pulseWidth = 5

func (p *Pulse) OnEvent(now time.Time) {
	p.lit = pulseWidth
	p.lastEvent = now
}

func (p *Pulse) Decay(now time.Time) {
	if p.lit == 0 {
		return
	}
	fade := int(now.Sub(p.lastEvent) / (2 * time.Second))
	p.lit = max(pulseWidth-fade, 0)
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range pulseWidth {
		if i < p.lit {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, workspace string, pulse Pulse, theme Theme, width int) string {
	innerWidth := width - 4

	status := theme.Done.Render("HEALTHY")
	switch {
	case !health.Connected:
		status = theme.Failed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		status = theme.Failed.Render("DEGRADED")
	}

	scope := "all workspaces"
	if workspace != "" {
		scope = "workspace " + workspace
	}
	title := fmt.Sprintf(" WORKITEMS WATCH  %s", theme.Highlight.Render(scope))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	lastEvent := "never"
	if !pulse.lastEvent.IsZero() {
		lastEvent = time.Since(pulse.lastEvent).Round(time.Second).String() + " ago"
	}
	stats := fmt.Sprintf(" %s  uptime %s  pending %d  last event %s %s",
		status,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.QueueDepth,
		lastEvent,
		pulse.Render(theme),
	)
	if health.EventsDropped > 0 {
		stats += theme.Failed.Render(fmt.Sprintf("  dropped %d", health.EventsDropped))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, titleLine, stats))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
