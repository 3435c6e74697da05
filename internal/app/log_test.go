package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixedZapClock struct{ t time.Time }

func (c fixedZapClock) Now() time.Time                         { return c.t }
func (c fixedZapClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

func TestZapLogger_Format(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name   string
		opID   string
		log    func(l *zap.Logger)
		want   string
		extras []string
	}{
		{
			name: "basic info message",
			opID: "op-123",
			log:  func(l *zap.Logger) { l.Info("message sent") },
			want: "2024-06-15T14:30:45Z\tINFO\top-123\tmessage sent\n",
		},
		{
			name: "debug level",
			opID: "op-456",
			log:  func(l *zap.Logger) { l.Debug("payload uploaded") },
			want: "2024-06-15T14:30:45Z\tDEBUG\top-456\tpayload uploaded\n",
		},
		{
			name:   "with fields",
			opID:   "op-789",
			log:    func(l *zap.Logger) { l.Warn("skipping message", zap.String("cid", "bafkrei123"), zap.Int("size", 42)) },
			want:   "2024-06-15T14:30:45Z\tWARN\top-789\tskipping message\t{",
			extras: []string{`"cid"`, "bafkrei123", `"size"`, "42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := newZapLogger(zapcore.AddSync(&buf), zapcore.DebugLevel, tt.opID, zap.WithClock(fixedZapClock{ts}))
			tt.log(l)

			got := buf.String()
			if tt.extras == nil {
				if got != tt.want {
					t.Errorf("output =\n%q\nwant:\n%q", got, tt.want)
				}
				return
			}
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("output =\n%q\nwant prefix:\n%q", got, tt.want)
			}
			for _, e := range tt.extras {
				if !strings.Contains(got, e) {
					t.Errorf("output %q missing %q", got, e)
				}
			}
		})
	}
}

func TestZapLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newZapLogger(zapcore.AddSync(&buf), zapcore.WarnLevel, "op-1")

	l.Info("dropped")
	l.Warn("kept")

	got := buf.String()
	if strings.Contains(got, "dropped") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(got, "kept") {
		t.Error("warn entry missing")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: "debug", want: zapcore.DebugLevel},
		{in: "info", want: zapcore.InfoLevel},
		{in: "warn", want: zapcore.WarnLevel},
		{in: "ERROR", want: zapcore.ErrorLevel},
		{in: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := newZapAdapter(zap.New(core))

	a.Debug("payload uploaded", "cid", "bafk1")
	a.Info("message sent", "cid", "bafk2", "bytes", 42)
	a.Warn("skipping message", "cid", "bafk3")
	a.Error("publishing public key failed", "error", "boom")

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Errorf("entry %d level = %v, want %v", i, e.Level, wantLevels[i])
		}
	}

	fields := entries[1].ContextMap()
	if fields["cid"] != "bafk2" {
		t.Errorf("cid = %v, want bafk2", fields["cid"])
	}
	if fields["bytes"] != int64(42) {
		t.Errorf("bytes = %v (%T), want 42", fields["bytes"], fields["bytes"])
	}
}

func TestNewLogger(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "nested", "log")

	l, f, err := newLogger(logDir, "info", "op-file")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	l.Info("hello from test")
	l.Sync()
	f.Close()

	data, err := os.ReadFile(filepath.Join(logDir, "blockmail.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\tINFO\top-file\thello from test") {
		t.Errorf("log file = %q, want the entry", data)
	}

	if _, _, err := newLogger(logDir, "loud", "op"); err == nil {
		t.Error("newLogger() expected error for invalid level")
	}
}
