package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/workitems/internal/config"
	"github.com/mattjoyce/workitems/internal/doctor"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) || hasHelpFlag(args[1:]) {
		printConfigHelp()
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "get":
		return runConfigGet(args[1:])
	case "set":
		return runConfigSet(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func printConfigHelp() {
	fmt.Print(`Usage: workitems config <action> [flags]

Actions:
  check     [--config PATH] [--format human|json] [--strict]
  get       PATH [--config PATH]          e.g. server.listen, token:0
  set       PATH=VALUE --config PATH       edits the file in place

check validates the server settings and the adapter a run would resolve
from the configuration and the environment. Exit code 1 means errors;
with --strict, warnings exit 2.
`)
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	format := fs.String("format", "human", "Output format: human or json")
	strict := fs.Bool("strict", false, "Exit 2 when there are warnings")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, os.Getenv).Validate()
	switch *format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	case "human":
		fmt.Print(doctor.FormatHuman(result))
	default:
		fmt.Fprintf(os.Stderr, "Invalid --format %q (want human or json)\n", *format)
		return 1
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

// splitPositional pulls a leading positional argument out ahead of the flags.
func splitPositional(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func runConfigGet(args []string) int {
	path, rest := splitPositional(args)
	fs := flag.NewFlagSet("config get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if path == "" && fs.NArg() == 1 {
		path = fs.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: workitems config get PATH [--config PATH]")
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	val, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	switch v := val.(type) {
	case string, bool, int, int64, float64:
		fmt.Println(v)
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	}
	return 0
}

func runConfigSet(args []string) int {
	assignment, rest := splitPositional(args)
	fs := flag.NewFlagSet("config set", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if assignment == "" && fs.NArg() == 1 {
		assignment = fs.Arg(0)
	}
	path, value, ok := strings.Cut(assignment, "=")
	if !ok || path == "" {
		fmt.Fprintln(os.Stderr, "Usage: workitems config set PATH=VALUE --config PATH")
		return 1
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "--config is required for set")
		return 1
	}

	if err := config.SetPath(*configPath, path, value); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set %s: %v\n", path, err)
		return 1
	}
	fmt.Printf("Set %s = %s\n", path, value)
	return 0
}
