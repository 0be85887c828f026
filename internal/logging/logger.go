// Package logging provides the structured logger used across the orchestrator.
// It is a thin field-oriented wrapper over zerolog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger provides structured logging capabilities
type Logger struct {
	level  LogLevel
	format LogFormat
	output io.Writer
	fields map[string]interface{}
	zl     zerolog.Logger
}

// NewLogger creates a new logger instance writing to stdout
func NewLogger(level LogLevel, format LogFormat) *Logger {
	return newLogger(level, format, os.Stdout, nil)
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	l := newLogger(LevelFatal, FormatJSON, io.Discard, nil)
	l.zl = zerolog.Nop()
	return l
}

func newLogger(level LogLevel, format LogFormat, out io.Writer, fields map[string]interface{}) *Logger {
	l := &Logger{
		level:  level,
		format: format,
		output: out,
		fields: make(map[string]interface{}, len(fields)),
	}
	for k, v := range fields {
		l.fields[k] = v
	}
	l.zl = l.build()
	return l
}

func (l *Logger) build() zerolog.Logger {
	var w io.Writer = l.output
	if l.format == FormatText {
		w = zerolog.ConsoleWriter{Out: l.output, TimeFormat: timeFormat, NoColor: true}
	}
	ctx := zerolog.New(w).Level(toZerolog(l.level)).With().Timestamp()
	if len(l.fields) > 0 {
		ctx = ctx.Fields(l.fields)
	}
	return ctx.Logger()
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return newLogger(l.level, l.format, l.output, merged)
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(message string) { l.zl.Debug().Msg(message) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(message string) { l.zl.Info().Msg(message) }

func (l *Logger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(message string) { l.zl.Warn().Msg(message) }

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

// Error logs an error message with the caller attached
func (l *Logger) Error(message string) { l.zl.Error().Caller(1).Msg(message) }

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Caller(1).Msg(fmt.Sprintf(format, args...))
}

// ErrorWithErr logs an error message with an error object
func (l *Logger) ErrorWithErr(message string, err error) {
	l.WithError(err).Error(message)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.zl.WithLevel(zerolog.FatalLevel).Caller(1).Msg(message)
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.zl.WithLevel(zerolog.FatalLevel).Caller(1).Msg(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// SetOutput sets the output writer for the logger
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.zl = l.build()
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.zl = l.build()
}

// Zerolog exposes the underlying zerolog logger for libraries that accept one.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(level LogLevel, format LogFormat) {
	zerolog.TimeFieldFormat = timeFormat
	globalLogger = NewLogger(level, format)
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo, FormatJSON)
	}
	return globalLogger
}

type loggerKey struct{}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves a logger from the context
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*Logger); ok {
			return logger
		}
	}
	return GetGlobalLogger()
}

func Debug(message string) { GetGlobalLogger().Debug(message) }
func Debugf(format string, args ...interface{}) { GetGlobalLogger().Debugf(format, args...) }
func Info(message string) { GetGlobalLogger().Info(message) }
func Infof(format string, args ...interface{}) { GetGlobalLogger().Infof(format, args...) }
func Warn(message string) { GetGlobalLogger().Warn(message) }
func Warnf(format string, args ...interface{}) { GetGlobalLogger().Warnf(format, args...) }
func Error(message string) { GetGlobalLogger().Error(message) }
func Errorf(format string, args ...interface{}) { GetGlobalLogger().Errorf(format, args...) }
func ErrorWithErr(message string, err error) { GetGlobalLogger().ErrorWithErr(message, err) }
func Fatal(message string) { GetGlobalLogger().Fatal(message) }
func Fatalf(format string, args ...interface{}) { GetGlobalLogger().Fatalf(format, args...) }
func WithField(key string, value interface{}) *Logger { return GetGlobalLogger().WithField(key, value) }

// WithFields adds multiple fields to the global logger
func WithFields(fields map[string]interface{}) *Logger {
	return GetGlobalLogger().WithFields(fields)
}

// WithError adds an error to the global logger
func WithError(err error) *Logger {
	return GetGlobalLogger().WithError(err)
}

// ParseLogLevel parses a string into a LogLevel
func ParseLogLevel(level string) LogLevel {
	switch level {
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
		log.Printf("Unknown log level '%s', defaulting to 'info'", level)
		return LevelInfo
	}
}

// ParseLogFormat parses a string into a LogFormat
func ParseLogFormat(format string) LogFormat {
	switch format {
	case "json":
		return FormatJSON
	case "text":
		return FormatText
	default:
		log.Printf("Unknown log format '%s', defaulting to 'json'", format)
		return FormatJSON
	}
}
