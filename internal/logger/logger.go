package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Level is the minimum severity a logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level, falling back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	case LevelFatal:
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// Field is a structured key/value attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err is shorthand for F("error", err).
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is the logging surface every component depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// Config holds logger configuration
type Config struct {
	Level      Level
	Format     string // "json" or "text"
	Output     io.Writer
	TimeFormat string
	AppName    string
}

type logger struct {
	charm  *log.Logger
	fields []Field
}

// OpenOutput resolves a configured output target. "", "stdout" and "stderr"
// map to the process streams; anything else is a file opened for appending.
func OpenOutput(target string) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}
	return f, nil
}

// New builds a charmbracelet-backed Logger.
func New(cfg Config) Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.DateTime
	}

	charm := log.NewWithOptions(output, log.Options{
		Level:           cfg.Level.charm(),
		ReportCaller:    cfg.Level <= LevelDebug,
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
		Prefix:          cfg.AppName,
	})

	if cfg.Format == "json" {
		charm.SetFormatter(log.JSONFormatter)
	} else {
		charm.SetFormatter(log.TextFormatter)
	}

	return &logger{charm: charm}
}

// NewDefault creates a text logger at info level on stdout.
func NewDefault() Logger {
	return New(Config{Level: LevelInfo, Format: "text"})
}

func (l *logger) keyvals(fields []Field) []interface{} {
	keyvals := make([]interface{}, 0, (len(l.fields)+len(fields))*2)
	for _, f := range l.fields {
		keyvals = append(keyvals, f.Key, f.Value)
	}
	for _, f := range fields {
		keyvals = append(keyvals, f.Key, f.Value)
	}
	return keyvals
}

func (l *logger) Debug(msg string, fields ...Field) { l.charm.Debug(msg, l.keyvals(fields)...) }
func (l *logger) Info(msg string, fields ...Field)  { l.charm.Info(msg, l.keyvals(fields)...) }
func (l *logger) Warn(msg string, fields ...Field)  { l.charm.Warn(msg, l.keyvals(fields)...) }
func (l *logger) Error(msg string, fields ...Field) { l.charm.Error(msg, l.keyvals(fields)...) }
func (l *logger) Fatal(msg string, fields ...Field) { l.charm.Fatal(msg, l.keyvals(fields)...) }

func (l *logger) With(fields ...Field) Logger {
	merged := make([]Field, len(l.fields)+len(fields))
	copy(merged, l.fields)
	copy(merged[len(l.fields):], fields)
	return &logger{charm: l.charm, fields: merged}
}

// WithContext attaches the chat, message and listener ids stored in ctx.
func (l *logger) WithContext(ctx context.Context) Logger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

type contextKey string

const (
	contextKeyChatID    contextKey = "chat_id"
	contextKeyMessageID contextKey = "message_id"
	contextKeyListener  contextKey = "listener"
)

// ContextWithMessage tags ctx with the chat and message being processed.
func ContextWithMessage(ctx context.Context, chatID int64, messageID int64) context.Context {
	ctx = context.WithValue(ctx, contextKeyChatID, chatID)
	return context.WithValue(ctx, contextKeyMessageID, messageID)
}

// ContextWithListener tags ctx with the listener rule currently dispatching.
func ContextWithListener(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKeyListener, name)
}

// FieldsFromContext returns the log fields carried by ctx, in a stable order.
func FieldsFromContext(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	var fields []Field
	for _, key := range []contextKey{contextKeyChatID, contextKeyMessageID, contextKeyListener} {
		if v := ctx.Value(key); v != nil {
			fields = append(fields, F(string(key), v))
		}
	}
	return fields
}

// Nop returns a Logger that discards everything. Fatal still does not exit.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field)               {}
func (nopLogger) Info(string, ...Field)                {}
func (nopLogger) Warn(string, ...Field)                {}
func (nopLogger) Error(string, ...Field)               {}
func (nopLogger) Fatal(string, ...Field)               {}
func (n nopLogger) With(...Field) Logger               { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }

var globalLogger Logger = NewDefault()

// SetGlobal replaces the process-wide logger used during bootstrap.
func SetGlobal(l Logger) {
	globalLogger = l
}

// Global returns the global logger instance
func Global() Logger {
	return globalLogger
}

func Debug(msg string, fields ...Field) { globalLogger.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { globalLogger.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { globalLogger.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { globalLogger.Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { globalLogger.Fatal(msg, fields...) }
