package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("resolver").
		With("render_id", "abc").
		Warn(context.Background(), errors.New("boom"), "resolution failed", "name", "hero")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "resolution failed", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "resolver", entry["component"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "abc", entry["render_id"])
	assert.Equal(t, "hero", entry["name"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Output: &buf})

	logger.Debug(context.Background(), "hidden debug")
	logger.Info(context.Background(), "hidden info")
	logger.Warn(context.Background(), nil, "shown warn")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown warn")
}

func TestLogSecurityEventSanitizes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &buf})

	LogSecurityEvent(logger, context.Background(), "path_escape", map[string]interface{}{
		"name": "../etc/passwd\n" + strings.Repeat("a", 400),
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "security", entry["event_type"])
	name := entry["name"].(string)
	assert.NotContains(t, name, "\n")
	assert.True(t, strings.HasSuffix(name, "[TRUNCATED]"))
}

func TestPerfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Output: &buf})

	op := StartOperation(logger, "render")
	op.End(context.Background())
	assert.Contains(t, buf.String(), "operation=render")
	assert.Contains(t, buf.String(), "duration_ms=")

	buf.Reset()
	op.EndWithError(context.Background(), errors.New("nope"))
	assert.Contains(t, buf.String(), "Operation failed")
}

func TestNopLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNopLogger().Error(context.Background(), errors.New("x"), "discarded")
	})
}
