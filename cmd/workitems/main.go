package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "queue":
		return runQueueNoun(args)
	case "config":
		return runConfigNoun(args)
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runScript(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: workitems version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("workitems %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if isHelpToken(a) {
			return true
		}
	}
	return false
}

func isHelpToken(s string) bool {
	return s == "help" || s == "--help" || s == "-h"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `workitems - work item queue and task runner

Usage:
  workitems <command> [flags]

Commands:
  serve             Run the work queue API server in the foreground
  queue add         Seed an input work item
  queue list        List work items
  queue inspect     Show an item with its outputs, files and release history
  queue cleanup     Prune released work items and their files
  config check      Validate configuration and adapter resolution
  config get|set    Read or edit a configuration value
  run               Execute a step script against the configured adapter
  watch             Live TUI of queue health and lifecycle events
  version           Show version information
  help              Show this help message

Adapter selection for 'run' follows the environment:
  RC_API_WORKITEM_HOST + RC_WORKSPACE_ID     remote work queue
  RPA_INPUT_WORKITEM_PATH / RPA_OUTPUT_WORKITEM_PATH   local JSON files
  RPA_WORKITEMS_ALLOW_DEFAULT=1             single empty input

Use 'workitems <command> --help' for command flags.
`)
}

func printServeHelp() {
	fmt.Print(`Usage: workitems serve [--config PATH] [--db PATH] [--files-dir DIR] [--listen ADDR]

Runs the work queue API until SIGINT or SIGTERM. Released items older than
server.file_retention are pruned hourly.
`)
}

func printRunHelp() {
	fmt.Print(`Usage: workitems run --script steps.yaml [--config PATH]

Step scripts are YAML lists:

  - keyword: Get Input Work Item
  - keyword: Create Output Work Item
    args:
      variables: {status: ok}
      save: true
  - for_each:
      limit: 10
      continue_on_error: true
      steps:
        - keyword: Get Work Item Variable
          args: {name: user}
`)
}
