package config

import "time"

// Config represents the complete workitems configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Library LibraryConfig `yaml:"library"`
	Adapter AdapterConfig `yaml:"adapter"`
	Server  ServerConfig  `yaml:"server"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// LibraryConfig defines work item lifecycle behaviour.
type LibraryConfig struct {
	// AutoRelease releases the current input as DONE when the next one is
	// requested. Pointer so an explicit false survives defaulting.
	AutoRelease *bool `yaml:"auto_release,omitempty"`
}

// AdapterConfig selects and configures the work item backend.
type AdapterConfig struct {
	// Kind is "file", "remote" or empty to detect from the environment.
	Kind string `yaml:"kind"`

	// AllowDefault falls back to a file adapter with a single empty input when
	// nothing is configured.
	AllowDefault bool                `yaml:"allow_default"`
	File         FileAdapterConfig   `yaml:"file"`
	Remote       RemoteAdapterConfig `yaml:"remote"`
}

// FileAdapterConfig defines the local JSON stores.
type FileAdapterConfig struct {
	InputPath  string `yaml:"input_path"`
	OutputPath string `yaml:"output_path"`
}

// RemoteAdapterConfig defines the work queue API connection.
type RemoteAdapterConfig struct {
	Host      string        `yaml:"host"`
	Token     string        `yaml:"token"`
	Workspace string        `yaml:"workspace"`
	RunID     string        `yaml:"run_id"`
	Timeout   time.Duration `yaml:"timeout"`
	Retry     RetryConfig   `yaml:"retry"`
}

// RetryConfig defines retry behavior for transient remote failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// ServerConfig defines the work queue API server.
type ServerConfig struct {
	Listen string `yaml:"listen"`

	// APIKey is the single admin bearer token. Prefer Tokens for scoped access.
	APIKey   string      `yaml:"api_key"`
	Tokens   []APIToken  `yaml:"tokens,omitempty"`
	State    StateConfig `yaml:"state"`
	FilesDir string      `yaml:"files_dir"`
	PIDFile  string      `yaml:"pid_file"`

	// FileRetention is how long released item blobs are kept by cleanup.
	FileRetention time.Duration `yaml:"file_retention"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`

	// Workspaces limits the token to the listed workspaces; empty means all.
	Workspaces []string `yaml:"workspaces,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	autoRelease := true
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Library: LibraryConfig{
			AutoRelease: &autoRelease,
		},
		Adapter: AdapterConfig{
			Remote: RemoteAdapterConfig{
				RunID:   "default",
				Timeout: 30 * time.Second,
				Retry:   DefaultRetryConfig(),
			},
		},
		Server: ServerConfig{
			Listen:        "127.0.0.1:8080",
			State:         StateConfig{Path: "./data/workitems.db"},
			FilesDir:      "./data/files",
			PIDFile:       "./data/workitems.pid",
			FileRetention: 30 * 24 * time.Hour,
		},
	}
}

// DefaultRetryConfig returns the retry policy for remote calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
		MaxBackoff:  4 * time.Second,
	}
}

// AutoReleaseEnabled reports the effective auto-release setting.
func (c *Config) AutoReleaseEnabled() bool {
	return c.Library.AutoRelease == nil || *c.Library.AutoRelease
}
