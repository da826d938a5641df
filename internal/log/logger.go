// Package log configures the process-wide slog logger and the attribute keys
// shared by workitems components.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Attribute keys used across components.
const (
	KeyComponent = "component"
	KeyItem      = "item_id"
	KeyParent    = "parent_id"
	KeyWorkspace = "workspace"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup installs the process logger on stderr; stdout stays free for command
// output. Only the first call has an effect.
func Setup(level, format string) {
	once.Do(func() {
		logger = New(os.Stderr, level, format)
		slog.SetDefault(logger)
	})
}

// New builds a logger writing to w. format "text" selects logfmt-style
// output; anything else is JSON.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps a level name to a slog level. Unknown names are INFO.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		if strings.EqualFold(strings.TrimSpace(level), "warning") {
			return slog.LevelWarn
		}
		return slog.LevelInfo
	}
	return l
}

// Get returns the process logger, installing a JSON INFO logger on first use.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json")
	}
	return logger
}

// WithComponent returns the process logger tagged with a component name.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String(KeyComponent, name))
}

func Item(id string) slog.Attr      { return slog.String(KeyItem, id) }
func Parent(id string) slog.Attr    { return slog.String(KeyParent, id) }
func Workspace(ws string) slog.Attr { return slog.String(KeyWorkspace, ws) }
