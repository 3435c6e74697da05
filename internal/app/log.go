package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"blockmail/internal/mail"
)

const logTimeFormat = "2006-01-02T15:04:05Z"

// newEncoder returns a console encoder that formats entries as:
//
//	<timestamp>\t<LEVEL>\t<opID>\t<message>\t<fields as JSON>
func newEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "op",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       encodeUTC,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: "\t",
	})
}

func encodeUTC(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(logTimeFormat))
}

// parseLevel maps a config log level to zap. Empty means info.
func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

func newZapLogger(w zapcore.WriteSyncer, level zapcore.Level, opID string, opts ...zap.Option) *zap.Logger {
	core := zapcore.NewCore(newEncoder(), w, level)
	return zap.New(core, opts...).Named(opID)
}

// newLogger creates a logger that writes to both logDir/blockmail.log and stderr.
// It returns the logger, the open log file (for cleanup), and any error.
func newLogger(logDir, level, opID string) (*zap.Logger, *os.File, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "blockmail.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := zapcore.NewMultiWriteSyncer(zapcore.AddSync(f), zapcore.Lock(os.Stderr))
	return newZapLogger(w, lvl, opID), f, nil
}

// zapAdapter wraps *zap.SugaredLogger to satisfy the mail.Logger interface.
type zapAdapter struct {
	l *zap.SugaredLogger
}

var _ mail.Logger = (*zapAdapter)(nil)

func newZapAdapter(l *zap.Logger) *zapAdapter {
	return &zapAdapter{l: l.Sugar()}
}

func (a *zapAdapter) Debug(msg string, args ...any) { a.l.Debugw(msg, args...) }
func (a *zapAdapter) Info(msg string, args ...any)  { a.l.Infow(msg, args...) }
func (a *zapAdapter) Warn(msg string, args ...any)  { a.l.Warnw(msg, args...) }
func (a *zapAdapter) Error(msg string, args ...any) { a.l.Errorw(msg, args...) }
