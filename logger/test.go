package logger

import (
	"fmt"
	"strings"
	"sync"
)

// TestLogEntry is a single captured log line.
type TestLogEntry struct {
	Severity string
	Message  string
	Metadata map[string]interface{}
}

// TestLogger captures log output for assertions in tests.
type TestLogger struct {
	mu       sync.Mutex
	entries  []TestLogEntry
	metadata map[string]interface{}
	prefixes []string
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a logger which records every entry instead of writing it.
func NewTestLogger() *TestLogger {
	return &TestLogger{metadata: make(map[string]interface{})}
}

// Entries returns a copy of all captured entries.
func (t *TestLogger) Entries() []TestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TestLogEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Contains reports whether any captured message contains the substring.
func (t *TestLogger) Contains(substr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func (t *TestLogger) record(severity, msg string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	message := fmt.Sprintf(msg, args...)
	if len(t.prefixes) > 0 {
		message = strings.Join(t.prefixes, " ") + " " + message
	}
	metadata := make(map[string]interface{}, len(t.metadata))
	for k, v := range t.metadata {
		metadata[k] = v
	}
	t.entries = append(t.entries, TestLogEntry{Severity: severity, Message: message, Metadata: metadata})
}

func (t *TestLogger) With(metadata map[string]interface{}) Logger {
	t.mu.Lock()
	defer t.mu.Unlock()
	merged := make(map[string]interface{}, len(t.metadata)+len(metadata))
	for k, v := range t.metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	// share the entry slice with the parent so tests can assert on a single logger
	return &childTestLogger{parent: t, metadata: merged, prefixes: t.prefixes}
}

func (t *TestLogger) WithPrefix(prefix string) Logger {
	return &childTestLogger{parent: t, metadata: t.metadata, prefixes: append(t.prefixes, prefix)}
}

func (t *TestLogger) IsLevelEnabled(LogLevel) bool { return true }

func (t *TestLogger) Trace(msg string, args ...interface{}) { t.record("TRACE", msg, args...) }
func (t *TestLogger) Debug(msg string, args ...interface{}) { t.record("DEBUG", msg, args...) }
func (t *TestLogger) Info(msg string, args ...interface{})  { t.record("INFO", msg, args...) }
func (t *TestLogger) Warn(msg string, args ...interface{})  { t.record("WARN", msg, args...) }
func (t *TestLogger) Error(msg string, args ...interface{}) { t.record("ERROR", msg, args...) }
func (t *TestLogger) Fatal(msg string, args ...interface{}) { t.record("FATAL", msg, args...) }

type childTestLogger struct {
	parent   *TestLogger
	metadata map[string]interface{}
	prefixes []string
}

var _ Logger = (*childTestLogger)(nil)

func (c *childTestLogger) record(severity, msg string, args ...interface{}) {
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	message := fmt.Sprintf(msg, args...)
	if len(c.prefixes) > 0 {
		message = strings.Join(c.prefixes, " ") + " " + message
	}
	c.parent.entries = append(c.parent.entries, TestLogEntry{Severity: severity, Message: message, Metadata: c.metadata})
}

func (c *childTestLogger) With(metadata map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	return &childTestLogger{parent: c.parent, metadata: merged, prefixes: c.prefixes}
}

func (c *childTestLogger) WithPrefix(prefix string) Logger {
	return &childTestLogger{parent: c.parent, metadata: c.metadata, prefixes: append(c.prefixes, prefix)}
}

func (c *childTestLogger) IsLevelEnabled(LogLevel) bool { return true }

func (c *childTestLogger) Trace(msg string, args ...interface{}) { c.record("TRACE", msg, args...) }
func (c *childTestLogger) Debug(msg string, args ...interface{}) { c.record("DEBUG", msg, args...) }
func (c *childTestLogger) Info(msg string, args ...interface{})  { c.record("INFO", msg, args...) }
func (c *childTestLogger) Warn(msg string, args ...interface{})  { c.record("WARN", msg, args...) }
func (c *childTestLogger) Error(msg string, args ...interface{}) { c.record("ERROR", msg, args...) }
func (c *childTestLogger) Fatal(msg string, args ...interface{}) { c.record("FATAL", msg, args...) }
