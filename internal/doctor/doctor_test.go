package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/workitems/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.json")
	if err := os.WriteFile(input, []byte(`[{"payload":{}}]`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := config.Defaults()
	cfg.Server.APIKey = "admin"
	cfg.Server.State.Path = filepath.Join(dir, "workitems.db")
	cfg.Server.FilesDir = filepath.Join(dir, "files")
	cfg.Server.PIDFile = filepath.Join(dir, "workitems.pid")
	cfg.Adapter.File.InputPath = input
	cfg.Adapter.File.OutputPath = filepath.Join(dir, "output.json")
	return cfg
}

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t), noEnv).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
	if r.Adapter != "file" {
		t.Fatalf("adapter = %q, want file", r.Adapter)
	}
}

func TestValidate_ServerChecks(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Server.Listen = ""
	cfg.Server.APIKey = ""
	r := New(cfg, noEnv).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "server", "server.listen")
	assertHasWarning(t, r, "server", "refuse to start")
}

func TestValidate_TokenChecks(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Server.Tokens = []config.APIToken{
		{Token: "a", Scopes: []string{"items:ro"}},
		{Token: "a", Scopes: []string{"items:write"}},
		{Token: "admin", Scopes: []string{"*"}},
		{Token: "b", Scopes: []string{"events:ro"}, Workspaces: []string{"ok", "bad/name"}},
	}
	r := New(cfg, noEnv).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "tokens", "duplicates server.tokens[0]")
	assertHasError(t, r, "tokens", `unknown scope "items:write"`)
	assertHasError(t, r, "tokens", "equals server.api_key")
	assertHasError(t, r, "tokens", `invalid workspace name "bad/name"`)
	assertHasWarning(t, r, "server", "prefer tokens only")
}

func TestValidate_StorageChecks(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Server.State.Path = t.TempDir()
	cfg.Server.FilesDir = ""
	cfg.Server.PIDFile = filepath.Join(t.TempDir(), "missing", "workitems.pid")
	r := New(cfg, noEnv).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "storage", "is a directory")
	assertHasError(t, r, "storage", "server.files_dir")
	assertHasWarning(t, r, "storage", "will be created")
}

func TestValidate_RemoteAdapterFromEnv(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Adapter.File = config.FileAdapterConfig{}
	r := New(cfg, envMap(map[string]string{
		config.EnvRemoteHost:  "queue.example.com",
		config.EnvWorkspaceID: "acme",
	})).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if r.Adapter != "remote" {
		t.Fatalf("adapter = %q, want remote", r.Adapter)
	}
	assertHasWarning(t, r, "adapter", "no token")
}

func TestValidate_ExplicitRemoteWithoutWorkspace(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Adapter.Kind = "remote"
	cfg.Adapter.Remote.Host = "queue.example.com"
	cfg.Adapter.Remote.Token = "tok"
	r := New(cfg, noEnv).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "adapter", "adapter.remote.workspace")
}

func TestValidate_FileAdapterChecks(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Adapter.File.InputPath = filepath.Join(t.TempDir(), "nope.json")
	cfg.Adapter.File.OutputPath = ""
	r := New(cfg, noEnv).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "adapter", "not readable")
	assertHasWarning(t, r, "adapter", "saving outputs will fail")
}

func TestValidate_NoAdapterConfigured(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Adapter.File = config.FileAdapterConfig{}
	cfg.Server.FileRetention = time.Minute
	r := New(cfg, noEnv).Validate()
	if !r.Valid {
		t.Fatalf("missing adapter is only a warning, got errors: %v", r.Errors)
	}
	if r.Adapter != "" {
		t.Fatalf("adapter = %q, want none", r.Adapter)
	}
	assertHasWarning(t, r, "adapter", "no work item adapter configured")
	assertHasWarning(t, r, "retention", "very short")
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Server.Listen = ""
	out := FormatHuman(New(cfg, noEnv).Validate())
	for _, needle := range []string{
		"Configuration invalid (1 error(s), 0 warning(s))",
		"adapter: file",
		"ERROR [server] server.listen: server.listen is required",
	} {
		if !strings.Contains(out, needle) {
			t.Fatalf("output missing %q:\n%s", needle, out)
		}
	}

	if got := FormatHuman(&Result{Valid: true}); got != "Configuration valid.\n" {
		t.Fatalf("unexpected clean output %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: false, Errors: []Issue{{Category: "server", Message: "boom"}}})
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": false`) || !strings.Contains(out, `"boom"`) {
		t.Fatalf("unexpected JSON: %s", out)
	}
}

func assertHasError(t *testing.T, r *Result, category, substr string) {
	t.Helper()
	if !hasIssue(r.Errors, category, substr) {
		t.Fatalf("expected %s error containing %q, got: %v", category, substr, r.Errors)
	}
}

func assertHasWarning(t *testing.T, r *Result, category, substr string) {
	t.Helper()
	if !hasIssue(r.Warnings, category, substr) {
		t.Fatalf("expected %s warning containing %q, got: %v", category, substr, r.Warnings)
	}
}

func hasIssue(issues []Issue, category, substr string) bool {
	for _, i := range issues {
		if i.Category == category && (strings.Contains(i.Message, substr) || strings.Contains(i.Field, substr)) {
			return true
		}
	}
	return false
}
