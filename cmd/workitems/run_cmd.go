package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/workitems/internal/adapters"
	"github.com/mattjoyce/workitems/internal/log"
	"github.com/mattjoyce/workitems/internal/workitem"
)

// scriptStep is one entry of a step script. Exactly one of Keyword, ForEach
// and Fail is set.
type scriptStep struct {
	Keyword string         `yaml:"keyword"`
	Args    map[string]any `yaml:"args"`
	ForEach *forEachStep   `yaml:"for_each"`
	Fail    *failStep      `yaml:"fail"`
}

type forEachStep struct {
	Limit           int          `yaml:"limit"`
	ContinueOnError bool         `yaml:"continue_on_error"`
	Steps           []scriptStep `yaml:"steps"`
}

// failStep aborts the current input with a classified exception.
type failStep struct {
	Type    string `yaml:"type"`
	Code    string `yaml:"code"`
	Message string `yaml:"message"`
}

type stepResult struct {
	Keyword string `json:"keyword"`
	Result  any    `json:"result"`
}

func parseScript(data []byte) ([]scriptStep, error) {
	var steps []scriptStep
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := validateSteps(steps, "steps"); err != nil {
		return nil, err
	}
	return steps, nil
}

func validateSteps(steps []scriptStep, path string) error {
	reg := workitem.Commands()
	for i, s := range steps {
		where := fmt.Sprintf("%s[%d]", path, i)
		set := 0
		if s.Keyword != "" {
			set++
			if _, ok := reg.Lookup(s.Keyword); !ok {
				return fmt.Errorf("%s: unknown keyword %q", where, s.Keyword)
			}
		}
		if s.ForEach != nil {
			set++
			if s.ForEach.Limit < 0 {
				return fmt.Errorf("%s.for_each.limit must not be negative", where)
			}
			if err := validateSteps(s.ForEach.Steps, where+".for_each.steps"); err != nil {
				return err
			}
		}
		if s.Fail != nil {
			set++
			if _, err := workitem.ParseExceptionType(s.Fail.Type); err != nil {
				return fmt.Errorf("%s.fail: %w", where, err)
			}
		}
		if set != 1 {
			return fmt.Errorf("%s: exactly one of keyword, for_each or fail is required", where)
		}
	}
	return nil
}

type scriptRunner struct {
	lib *workitem.Library
	reg *workitem.Registry
	out *json.Encoder
}

func (r *scriptRunner) run(ctx context.Context, steps []scriptStep) error {
	for _, s := range steps {
		switch {
		case s.ForEach != nil:
			inner := s.ForEach.Steps
			_, err := r.lib.ForEachInputWorkItem(ctx, func(ctx context.Context, _ *workitem.Item) (any, error) {
				return nil, r.run(ctx, inner)
			}, workitem.IterateOptions{Limit: s.ForEach.Limit, ContinueOnError: s.ForEach.ContinueOnError})
			if err != nil {
				return fmt.Errorf("for_each: %w", err)
			}
		case s.Fail != nil:
			typ, _ := workitem.ParseExceptionType(s.Fail.Type)
			return &workitem.ItemError{Type: typ, Code: s.Fail.Code, Message: s.Fail.Message}
		default:
			result, err := r.reg.Call(ctx, r.lib, s.Keyword, workitem.Args(s.Args))
			if err != nil {
				return fmt.Errorf("%s: %w", s.Keyword, err)
			}
			if result != nil {
				if err := r.out.Encode(stepResult{Keyword: s.Keyword, Result: result}); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
			}
		}
	}
	return nil
}

func runScript(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	scriptPath := fs.String("script", "", "Step script (YAML)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *scriptPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: workitems run --script steps.yaml [--config PATH]")
		return 1
	}

	data, err := os.ReadFile(*scriptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read script: %v\n", err)
		return 1
	}
	steps, err := parseScript(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid script %s: %v\n", *scriptPath, err)
		return 1
	}

	var sf storeFlags
	sf.configPath = *configPath
	cfg, err := sf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Log.Level, cfg.Log.Format)
	logger := log.WithComponent("run")

	adapter, err := adapters.Resolve(cfg.Adapter, os.Getenv)
	if err != nil {
		logger.Error("failed to resolve work item adapter", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lib := workitem.New(adapter, workitem.Options{AutoRelease: cfg.AutoReleaseEnabled(), Logger: log.WithComponent("workitems")})
	if err := executeScript(ctx, lib, steps, os.Stdout); err != nil {
		logger.Error("script failed", "script", *scriptPath, "error", err)
		return 1
	}
	logger.Info("script complete", "script", *scriptPath, "outputs", len(lib.Outputs()))
	return 0
}

// executeScript runs steps. When a step fails while an input is still
// unreleased, that input is released FAILED before the error is returned.
// ItemErrors keep their type and code; anything else is an APPLICATION
// failure. The release survives cancellation of ctx.
func executeScript(ctx context.Context, lib *workitem.Library, steps []scriptStep, w io.Writer) error {
	r := &scriptRunner{lib: lib, reg: workitem.Commands(), out: json.NewEncoder(w)}
	err := r.run(ctx, steps)
	if err == nil {
		return nil
	}
	if in := lib.Input(); in != nil && !in.Released() {
		exc := workitem.ExceptionFromError(err)
		if relErr := lib.ReleaseInputWorkItem(context.WithoutCancel(ctx), workitem.StateFailed, exc); relErr != nil {
			return errors.Join(err, relErr)
		}
	}
	return err
}
