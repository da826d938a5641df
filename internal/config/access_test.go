package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Listen = "0.0.0.0:9000"
	cfg.Server.FileRetention = 2 * time.Hour
	cfg.Server.Tokens = []APIToken{{Token: "t1", Scopes: []string{"items:ro"}}}

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{name: "root server field", path: "server.listen", want: "0.0.0.0:9000"},
		{name: "nested state path", path: "server.state.path", want: "./data/workitems.db"},
		{name: "bool pointer", path: "library.auto_release", want: true},
		{name: "duration renders as string", path: "server.file_retention", want: "2h0m0s"},
		{name: "missing key", path: "server.missing", wantErr: true},
		{name: "through a scalar", path: "server.listen.port", wantErr: true},
		{name: "token by index", path: "token:0", want: cfg.Server.Tokens[0]},
		{name: "all tokens", path: "token:*", want: cfg.Server.Tokens},
		{name: "token out of range", path: "token:3", wantErr: true},
		{name: "unknown entity", path: "plugin:echo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	initialYAML := `# queue server
server:
  listen: 127.0.0.1:8080
  api_key: admin
`
	require.NoError(t, os.WriteFile(configPath, []byte(initialYAML), 0o600))

	t.Run("set existing field", func(t *testing.T) {
		require.NoError(t, SetPath(configPath, "server.listen", "0.0.0.0:9000"))
		reloaded, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:9000", reloaded.Server.Listen)

		data, err := os.ReadFile(configPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "# queue server")
	})

	t.Run("create nested keys", func(t *testing.T) {
		require.NoError(t, SetPath(tmpDir, "adapter.remote.retry.max_attempts", "5"))
		require.NoError(t, SetPath(configPath, "library.auto_release", "false"))
		reloaded, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 5, reloaded.Adapter.Remote.Retry.MaxAttempts)
		assert.False(t, reloaded.AutoReleaseEnabled())
	})

	t.Run("invalid value rolls back", func(t *testing.T) {
		before, err := os.ReadFile(configPath)
		require.NoError(t, err)

		err = SetPath(configPath, "adapter.kind", "ftp")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")

		after, err := os.ReadFile(configPath)
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))

		info, err := os.Stat(configPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, SetPath(filepath.Join(tmpDir, "nope.yaml"), "server.listen", "x"))
	})
}
