// Package util provides shared logging and statistics helpers.
package util

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// EnableJSON switches the logger to one JSON object per line.
func EnableJSON() {
	pterm.DefaultLogger.Formatter = pterm.LogFormatterJSON
}

// SetLevel sets the logger level by name (trace, debug, info, warn, error, off).
func SetLevel(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		pterm.DefaultLogger.Level = pterm.LogLevelTrace
	case "debug":
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	case "", "info":
		pterm.DefaultLogger.Level = pterm.LogLevelInfo
	case "warn", "warning":
		pterm.DefaultLogger.Level = pterm.LogLevelWarn
	case "error":
		pterm.DefaultLogger.Level = pterm.LogLevelError
	case "off", "disabled", "none":
		pterm.DefaultLogger.Level = pterm.LogLevelDisabled
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

// Logger is a structured logger that stamps every line with a fixed set of
// key/value pairs, such as a session correlation id.
type Logger struct {
	base *pterm.Logger
	args []any
}

// NewLogger wraps base. A nil base logs through pterm.DefaultLogger.
func NewLogger(base *pterm.Logger) *Logger {
	if base == nil {
		base = &pterm.DefaultLogger
	}
	return &Logger{base: base}
}

// With returns a logger that adds the given key/value pairs to every line.
func (l *Logger) With(args ...any) *Logger {
	merged := make([]any, 0, len(l.args)+len(args))
	merged = append(merged, l.args...)
	merged = append(merged, args...)
	return &Logger{base: l.base, args: merged}
}

func (l *Logger) Trace(msg string, args ...any) { l.base.Trace(msg, l.fields(args)) }
func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, l.fields(args)) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Info(msg, l.fields(args)) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.fields(args)) }
func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, l.fields(args)) }

func (l *Logger) fields(args []any) []pterm.LoggerArgument {
	all := make([]any, 0, len(l.args)+len(args))
	all = append(all, l.args...)
	all = append(all, args...)
	return l.base.Args(all...)
}
