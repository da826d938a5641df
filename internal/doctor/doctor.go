// Package doctor validates workitems configuration beyond what the loader
// rejects outright.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/workitems/internal/adapters"
	"github.com/mattjoyce/workitems/internal/auth"
	"github.com/mattjoyce/workitems/internal/config"
	"github.com/mattjoyce/workitems/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Adapter  string  `json:"adapter,omitempty"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var knownScopes = map[string]bool{
	auth.ScopeAll:       true,
	auth.ScopeItemsRead: true,
	auth.ScopeItemsRW:   true,
	auth.ScopeEventsRO:  true,
}

// Doctor validates a loaded config against the process environment.
type Doctor struct {
	cfg    *config.Config
	getenv func(string) string
}

// New creates a Doctor. A nil getenv reads the real environment.
func New(cfg *config.Config, getenv func(string) string) *Doctor {
	if getenv == nil {
		getenv = os.Getenv
	}
	return &Doctor{cfg: cfg, getenv: getenv}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServer(r)
	d.validateTokens(r)
	d.validateStorage(r)
	d.validateAdapter(r)
	d.warnRetention(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServer(r *Result) {
	s := d.cfg.Server
	if strings.TrimSpace(s.Listen) == "" {
		d.addError(r, "server", "server.listen", "server.listen is required")
	}
	if s.APIKey == "" && len(s.Tokens) == 0 {
		d.addWarning(r, "server", "server.api_key",
			"no credentials configured; serve will refuse to start")
	}
	if s.APIKey != "" && len(s.Tokens) > 0 {
		d.addWarning(r, "server", "server.api_key",
			"api_key grants full access alongside scoped tokens; prefer tokens only")
	}
}

func (d *Doctor) validateTokens(r *Result) {
	seen := make(map[string]int)
	for i, token := range d.cfg.Server.Tokens {
		field := fmt.Sprintf("server.tokens[%d]", i)
		if prev, ok := seen[token.Token]; ok {
			d.addError(r, "tokens", field+".token",
				fmt.Sprintf("token duplicates server.tokens[%d]", prev))
		}
		seen[token.Token] = i
		if token.Token == d.cfg.Server.APIKey && token.Token != "" {
			d.addError(r, "tokens", field+".token", "token equals server.api_key")
		}

		for j, scope := range token.Scopes {
			if !knownScopes[scope] {
				d.addError(r, "tokens", fmt.Sprintf("%s.scopes[%d]", field, j),
					fmt.Sprintf("unknown scope %q (expected %s, %s, %s or %s)",
						scope, auth.ScopeItemsRead, auth.ScopeItemsRW, auth.ScopeEventsRO, auth.ScopeAll))
			}
		}
		for j, ws := range token.Workspaces {
			if strings.TrimSpace(ws) == "" || strings.ContainsAny(ws, "/\\") {
				d.addError(r, "tokens", fmt.Sprintf("%s.workspaces[%d]", field, j),
					fmt.Sprintf("invalid workspace name %q", ws))
			}
		}
	}
}

func (d *Doctor) validateStorage(r *Result) {
	s := d.cfg.Server
	if s.State.Path == "" {
		d.addError(r, "storage", "server.state.path", "server.state.path is required")
	}
	if s.FilesDir == "" {
		d.addError(r, "storage", "server.files_dir", "server.files_dir is required")
	}
	if s.State.Path != "" {
		if err := storage.CheckLocalPath(s.State.Path, "server.state.path"); err != nil && !errors.Is(err, storage.ErrDetectionUnsupported) {
			d.addError(r, "storage", "server.state.path", err.Error())
		}
	}
	if s.FilesDir != "" {
		if err := storage.CheckLocalPath(s.FilesDir, "server.files_dir"); err != nil && !errors.Is(err, storage.ErrDetectionUnsupported) {
			d.addWarning(r, "storage", "server.files_dir", err.Error())
		}
	}
	for field, path := range map[string]string{
		"server.state.path": s.State.Path,
		"server.pid_file":   s.PIDFile,
	} {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			d.addError(r, "storage", field, fmt.Sprintf("%s is a directory", path))
			continue
		}
		if _, err := os.Stat(filepath.Dir(path)); os.IsNotExist(err) {
			d.addWarning(r, "storage", field,
				fmt.Sprintf("directory %s does not exist yet; it will be created", filepath.Dir(path)))
		}
	}
}

// validateAdapter checks the adapter a run would resolve after environment
// overrides, without opening it.
func (d *Doctor) validateAdapter(r *Result) {
	ac := d.cfg.Adapter
	ac.ApplyEnv(d.getenv)

	kind, err := adapters.DetectKind(ac)
	if err != nil {
		d.addWarning(r, "adapter", "adapter.kind", err.Error())
		return
	}
	r.Adapter = kind

	switch kind {
	case adapters.KindRemote:
		if ac.Remote.Host == "" {
			d.addError(r, "adapter", "adapter.remote.host",
				fmt.Sprintf("remote adapter needs a host (or %s)", config.EnvRemoteHost))
		}
		if ac.Remote.Workspace == "" {
			d.addError(r, "adapter", "adapter.remote.workspace",
				fmt.Sprintf("remote adapter needs a workspace (or %s)", config.EnvWorkspaceID))
		}
		if ac.Remote.Token == "" {
			d.addWarning(r, "adapter", "adapter.remote.token",
				fmt.Sprintf("remote adapter has no token (or %s); requests will be rejected", config.EnvRemoteToken))
		}
	case adapters.KindFile:
		if ac.File.InputPath != "" {
			if _, err := os.Stat(ac.File.InputPath); err != nil {
				d.addError(r, "adapter", "adapter.file.input_path",
					fmt.Sprintf("input file %s is not readable: %v", ac.File.InputPath, err))
			}
		} else if !ac.AllowDefault {
			d.addWarning(r, "adapter", "adapter.file.input_path",
				"no input path; the run starts with no inputs")
		}
		if ac.File.OutputPath == "" {
			d.addWarning(r, "adapter", "adapter.file.output_path",
				"no output path; saving outputs will fail")
		}
	}
}

func (d *Doctor) warnRetention(r *Result) {
	if ret := d.cfg.Server.FileRetention; ret > 0 && ret < time.Hour {
		d.addWarning(r, "retention", "server.file_retention",
			fmt.Sprintf("file_retention %s is very short (< 1h)", ret))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}
	if r.Adapter != "" {
		fmt.Fprintf(&b, "  adapter: %s\n", r.Adapter)
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
