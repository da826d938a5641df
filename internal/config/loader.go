package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A directory is accepted
// when it contains config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configPath, or returns defaults when it is empty.
func LoadOrDefault(configPath string) (*Config, error) {
	if strings.TrimSpace(configPath) == "" {
		return Defaults(), nil
	}
	return Load(configPath)
}

// applyDefaults merges default values into config where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	if cfg.Library.AutoRelease == nil {
		cfg.Library.AutoRelease = defaults.Library.AutoRelease
	}

	remote := &cfg.Adapter.Remote
	if remote.RunID == "" {
		remote.RunID = defaults.Adapter.Remote.RunID
	}
	if remote.Timeout == 0 {
		remote.Timeout = defaults.Adapter.Remote.Timeout
	}
	if remote.Retry.MaxAttempts == 0 {
		remote.Retry.MaxAttempts = defaults.Adapter.Remote.Retry.MaxAttempts
	}
	if remote.Retry.BackoffBase == 0 {
		remote.Retry.BackoffBase = defaults.Adapter.Remote.Retry.BackoffBase
	}
	if remote.Retry.MaxBackoff == 0 {
		remote.Retry.MaxBackoff = defaults.Adapter.Remote.Retry.MaxBackoff
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.State.Path == "" {
		cfg.Server.State.Path = defaults.Server.State.Path
	}
	if cfg.Server.FilesDir == "" {
		cfg.Server.FilesDir = defaults.Server.FilesDir
	}
	if cfg.Server.PIDFile == "" {
		cfg.Server.PIDFile = defaults.Server.PIDFile
	}
	if cfg.Server.FileRetention == 0 {
		cfg.Server.FileRetention = defaults.Server.FileRetention
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place and rejected by validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	switch cfg.Adapter.Kind {
	case "", "file", "remote":
	default:
		return fmt.Errorf("adapter.kind must be \"file\" or \"remote\", got %q", cfg.Adapter.Kind)
	}

	retry := cfg.Adapter.Remote.Retry
	if retry.MaxAttempts < 1 {
		return fmt.Errorf("adapter.remote.retry.max_attempts must be at least 1")
	}
	if retry.BackoffBase < 0 || retry.MaxBackoff < 0 {
		return fmt.Errorf("adapter.remote.retry backoff must not be negative")
	}
	if retry.MaxBackoff < retry.BackoffBase {
		return fmt.Errorf("adapter.remote.retry.max_backoff must be >= backoff_base")
	}
	if cfg.Adapter.Remote.Timeout < 0 {
		return fmt.Errorf("adapter.remote.timeout must not be negative")
	}
	if cfg.Server.FileRetention < 0 {
		return fmt.Errorf("server.file_retention must not be negative")
	}

	for i, tok := range cfg.Server.Tokens {
		if strings.TrimSpace(tok.Token) == "" {
			return fmt.Errorf("server.tokens[%d].token is empty", i)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("server.tokens[%d].scopes is empty", i)
		}
	}

	for field, value := range map[string]string{
		"adapter.file.input_path":  cfg.Adapter.File.InputPath,
		"adapter.file.output_path": cfg.Adapter.File.OutputPath,
		"adapter.remote.host":      cfg.Adapter.Remote.Host,
		"adapter.remote.token":     cfg.Adapter.Remote.Token,
		"adapter.remote.workspace": cfg.Adapter.Remote.Workspace,
		"server.api_key":           cfg.Server.APIKey,
	} {
		if envVarPattern.MatchString(value) {
			return fmt.Errorf("%s references an unset environment variable: %s", field, value)
		}
	}
	return nil
}
