package testutil

import (
	"fmt"
	"strings"
	"sync"

	"blockmail/internal/mail"
)

// LogEntry is one call captured by RecordingLogger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger captures log calls so tests can assert on them.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

// Entries returns a copy of everything logged so far.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Count returns how many entries at level contain substr in their message.
func (l *RecordingLogger) Count(level, substr string) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			n++
		}
	}
	return n
}

func (e LogEntry) String() string {
	return fmt.Sprintf("%s %s %v", e.Level, e.Msg, e.Args)
}

var _ mail.Logger = (*RecordingLogger)(nil)
