// Package log provides structured JSON logging bound to job identity.
//
// Entries are one JSON object per line: timestamp, level, message, the
// job_id and project_id of the logger, then the call's fields as
// top-level keys.
package log

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/joblog/types"
)

// Logger writes structured entries. A nil *Logger discards everything.
type Logger struct {
	zap *zap.Logger
}

// NewLoggerWithWriter creates a logger writing JSON lines to w. level is
// one of debug, info, warn or error; empty means info.
func NewLoggerWithWriter(level string, w io.Writer) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return &Logger{zap: zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl))}, nil
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q", level)
	}
	return lvl, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// ForJob returns a child logger stamping job_id, and project_id when known.
func (l *Logger) ForJob(job types.JobRef) *Logger {
	fields := []zap.Field{zap.Int64("job_id", int64(job.ID))}
	if job.ProjectID != 0 {
		fields = append(fields, zap.Int64("project_id", job.ProjectID))
	}
	return &Logger{zap: OrNop(l).zap.With(fields...)}
}

func (l *Logger) log(lvl zapcore.Level, message string, fields map[string]any) {
	z := OrNop(l).zap
	ce := z.Check(lvl, message)
	if ce == nil {
		return
	}
	zf := make([]zap.Field, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	ce.Write(zf...)
}

// Debug logs at debug level.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.log(zapcore.DebugLevel, message, fields)
}

// Info logs at info level.
func (l *Logger) Info(message string, fields map[string]any) {
	l.log(zapcore.InfoLevel, message, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.log(zapcore.WarnLevel, message, fields)
}

// Error logs at error level.
func (l *Logger) Error(message string, fields map[string]any) {
	l.log(zapcore.ErrorLevel, message, fields)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return OrNop(l).zap.Sync()
}
