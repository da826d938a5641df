package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/workitems/internal/config"
	"github.com/mattjoyce/workitems/internal/tui/watch"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Work queue API URL")
	apiKey := fs.String("api-key", os.Getenv(config.EnvRemoteToken), "API bearer token")
	ws := fs.String("workspace", "", "Only show this workspace")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key required. Use --api-key or %s.\n", config.EnvRemoteToken)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey, *ws))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printWatchHelp() {
	fmt.Printf(`Usage: workitems watch [--api-url URL] [--api-key KEY] [--workspace WS]

Live view of a running work queue: health, per-workspace lifecycle counters
and the event stream. The token needs the events:ro scope.

Flags:
  --api-url URL    Work queue API URL (default: http://localhost:8080)
  --api-key KEY    API bearer token (or %s)
  --workspace WS   Only show one workspace

Keybindings:
  q, Ctrl+C        Quit
  ↑/↓, k/j         Move through workspaces
`, config.EnvRemoteToken)
}
