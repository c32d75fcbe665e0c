package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel defines the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string level to LogLevel.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo // Default to Info
	}
}

func (l LogLevel) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// LogrusLogger implements ports.Logger on top of logrus.
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates a logger writing text lines to os.Stderr.
func NewLogrusLogger(level LogLevel) *LogrusLogger {
	return NewLogrusLoggerTo(os.Stderr, level, false)
}

// NewLogrusLoggerTo creates a logger writing to w, as JSON when json is set.
func NewLogrusLoggerTo(w io.Writer, level LogLevel, json bool) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level.logrus())
	if json {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	}
	return &LogrusLogger{logger: l}
}

// entry merges every field map into one entry; later maps win on key clashes.
func (l *LogrusLogger) entry(ctx context.Context, fields []map[string]interface{}) *logrus.Entry {
	e := l.logger.WithContext(ctx)
	for _, f := range fields {
		if len(f) > 0 {
			e = e.WithFields(logrus.Fields(f))
		}
	}
	return e
}

// Debug logs a message at Debug level.
func (l *LogrusLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(ctx, fields).Debug(msg)
}

// Info logs a message at Info level.
func (l *LogrusLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(ctx, fields).Info(msg)
}

// Warn logs a message at Warning level.
func (l *LogrusLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.entry(ctx, fields).Warn(msg)
}

// Error logs an error message at Error level.
func (l *LogrusLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	e := l.entry(ctx, fields)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(msg)
}
