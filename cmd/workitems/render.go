package main

import (
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/mattjoyce/workitems/internal/queue"
)

var (
	statusDone     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	statusReserved = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusPending  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusCreated  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF"))
)

func stdoutIsTerminal() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func styleStatus(s queue.Status, colorize bool) string {
	label := string(s)
	if !colorize {
		return label
	}
	switch s {
	case queue.StatusDone:
		return statusDone.Render(label)
	case queue.StatusFailed:
		return statusFailed.Render(label)
	case queue.StatusReserved:
		return statusReserved.Render(label)
	case queue.StatusCreated:
		return statusCreated.Render(label)
	default:
		return statusPending.Render(label)
	}
}

func renderItemTable(entries []listEntry, colorize bool) string {
	headers := []string{"ID", "WORKSPACE", "KIND", "STATUS", "RUN", "CREATED", "EXCEPTION"}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		exc := ""
		if e.Exception != nil {
			exc = string(e.Exception.Type)
			if e.Exception.Code != "" {
				exc += " " + e.Exception.Code
			}
		}
		rows = append(rows, []string{
			e.ID,
			e.Workspace,
			string(e.Kind),
			styleStatus(e.Status, colorize),
			e.RunID,
			e.CreatedAt.Local().Format(time.DateTime),
			exc,
		})
	}
	return renderTable(headers, rows)
}

func renderTable(headers []string, rows [][]string) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		configs = append(configs, table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
