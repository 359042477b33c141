package logger

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
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestStdLogger_FiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelInfo)
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	l.Info(ctx, "order placed", map[string]interface{}{"symbol": "ETHUSDT", "kind": "sl"})
	l.Error(ctx, errors.New("boom"), "cancel failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] order placed | kind=sl symbol=ETHUSDT")
	assert.Contains(t, out, "[ERROR] cancel failed | error: boom")
}

func TestStdLogger_MergesFieldMaps(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, LevelDebug)

	l.Warn(context.Background(), "clamped", map[string]interface{}{"a": 1}, map[string]interface{}{"b": 2})
	assert.Contains(t, buf.String(), "[WARN] clamped | a=1 b=2")
}

func TestZerologLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(FormatJSON, LevelWarn, &buf)
	ctx := context.Background()

	l.Info(ctx, "hidden")
	l.Error(ctx, errors.New("rate limited"), "fetch failed", map[string]interface{}{"symbol": "BTCUSDT"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "fetch failed", entry["message"])
	assert.Equal(t, "rate limited", entry["error"])
	assert.Equal(t, "BTCUSDT", entry["symbol"])
}

func TestZerologLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	base := New(FormatJSON, LevelDebug, &buf).(*ZerologLogger)

	base.WithComponent("reconcile").Debug(context.Background(), "tick")
	assert.Contains(t, buf.String(), `"component":"reconcile"`)
}
