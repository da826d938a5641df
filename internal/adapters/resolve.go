// Package adapters provides the work item backends and picks one from
// configuration and the process environment.
package adapters

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/workitems/internal/config"
	"github.com/mattjoyce/workitems/internal/log"
	"github.com/mattjoyce/workitems/internal/workitem"
)

const (
	KindFile   = "file"
	KindRemote = "remote"
)

// Resolve builds the adapter described by cfg after applying environment
// overrides from getenv. An explicit kind wins; otherwise a remote host and
// workspace select the remote adapter, and an input or output path selects
// the file adapter.
func Resolve(cfg config.AdapterConfig, getenv func(string) string) (workitem.Adapter, error) {
	cfg.ApplyEnv(getenv)
	kind, err := DetectKind(cfg)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("resolver")
	logger.Debug("adapter resolved", "kind", kind)

	if kind == KindRemote {
		remote, err := newRemote(cfg.Remote, logger)
		if err != nil {
			return nil, err
		}
		return remote, nil
	}
	file, err := NewFileAdapter(FileOptions{
		InputPath:         cfg.File.InputPath,
		OutputPath:        cfg.File.OutputPath,
		DefaultEmptyInput: cfg.AllowDefault,
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// DetectKind reports which adapter Resolve would build for cfg.
func DetectKind(cfg config.AdapterConfig) (string, error) {
	switch strings.ToLower(cfg.Kind) {
	case KindFile:
		return KindFile, nil
	case KindRemote:
		return KindRemote, nil
	case "":
	default:
		return "", fmt.Errorf("%w: unknown adapter kind %q (want file or remote)", workitem.ErrConfiguration, cfg.Kind)
	}

	if cfg.Remote.Host != "" && cfg.Remote.Workspace != "" {
		return KindRemote, nil
	}
	if cfg.File.InputPath != "" || cfg.File.OutputPath != "" {
		return KindFile, nil
	}
	if cfg.AllowDefault {
		return KindFile, nil
	}
	return "", fmt.Errorf("%w: no work item adapter configured; set %s and %s for the remote queue, %s or %s for local files, or %s=1 to run with a single empty input",
		workitem.ErrConfiguration,
		config.EnvRemoteHost, config.EnvWorkspaceID,
		config.EnvInputPath, config.EnvOutputPath,
		config.EnvAllowDefault)
}

func newRemote(cfg config.RemoteAdapterConfig, logger *slog.Logger) (*RemoteAdapter, error) {
	if cfg.Token == "" {
		logger.Warn("remote adapter has no token", "env", config.EnvRemoteToken)
	}
	return NewRemoteAdapter(RemoteOptions{
		Host:      cfg.Host,
		Token:     cfg.Token,
		Workspace: cfg.Workspace,
		RunID:     cfg.RunID,
		Timeout:   cfg.Timeout,
		Retry:     cfg.Retry,
	})
}
