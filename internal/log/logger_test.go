package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "text")
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	Setup("ERROR", "json")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug), "second Setup is ignored")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"info+2", slog.LevelInfo + 2},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "text").Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")

	buf.Reset()
	New(&buf, "info", "yaml").Info("hello")
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out), "unknown formats are JSON")

	buf.Reset()
	New(&buf, "warn", "json").Info("quiet")
	assert.Empty(t, buf.String())
}

func TestWithComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("queue").Info("released", Item("i-1"), Parent("p-1"), Workspace("ws-1"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "queue", out[KeyComponent])
	assert.Equal(t, "i-1", out[KeyItem])
	assert.Equal(t, "p-1", out[KeyParent])
	assert.Equal(t, "ws-1", out[KeyWorkspace])
	assert.Equal(t, "released", out["msg"])
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.Error("dropped")
}
