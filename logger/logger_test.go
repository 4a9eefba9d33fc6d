package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLevelFromEnv(t *testing.T) {
	t.Setenv("SMARTCACHE_LOG_LEVEL", "trace")
	assert.Equal(t, LevelTrace, GetLevelFromEnv())
	t.Setenv("SMARTCACHE_LOG_LEVEL", "ERROR")
	assert.Equal(t, LevelError, GetLevelFromEnv())
	t.Setenv("SMARTCACHE_LOG_LEVEL", "bogus")
	assert.Equal(t, LevelInfo, GetLevelFromEnv())
}

func TestConsoleLoggerLevels(t *testing.T) {
	l := NewConsoleLogger(LevelWarn)
	assert.False(t, l.IsLevelEnabled(LevelDebug))
	assert.False(t, l.IsLevelEnabled(LevelInfo))
	assert.True(t, l.IsLevelEnabled(LevelWarn))
	assert.True(t, l.IsLevelEnabled(LevelError))
}

func TestConsoleLoggerWithDoesNotMutateParent(t *testing.T) {
	l := NewConsoleLogger(LevelInfo).(*consoleLogger)
	child := l.With(map[string]interface{}{"component": "monitor"}).(*consoleLogger)
	assert.Empty(t, l.metadata)
	assert.Equal(t, "monitor", child.metadata["component"])
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, LevelDebug).With(map[string]interface{}{"component": "analyzer"})
	l.Info("recorded %d executions", 5)
	l.Trace("dropped") // below level

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["severity"])
	assert.Equal(t, "recorded 5 executions", entry["message"])
	assert.Equal(t, "analyzer", entry["component"])
	assert.NotEmpty(t, entry["ts"])
}

func TestJSONLoggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, LevelDebug).WithPrefix("[queue]")
	l.Warn("enqueue failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[queue] enqueue failed", entry["message"])
}

func TestTestLoggerCapture(t *testing.T) {
	l := NewTestLogger()
	child := l.With(map[string]interface{}{"component": "drivers"})
	child.Error("probe failed: %s", "connection refused")

	require.Len(t, l.Entries(), 1)
	entry := l.Entries()[0]
	assert.Equal(t, "ERROR", entry.Severity)
	assert.Equal(t, "probe failed: connection refused", entry.Message)
	assert.Equal(t, "drivers", entry.Metadata["component"])
	assert.True(t, l.Contains("connection refused"))
	assert.False(t, l.Contains("timeout"))
}
