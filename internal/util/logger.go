package util

import (
	"os"
	"strings"
	"time"

	stdlog "log"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Logger = zerolog.Logger

// LogLevel represents available log levels
type LogLevel = int

// Log levels
const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
)

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// InitializeLogger sets up the global logger with the specified configuration
func InitializeLogger(level LogLevel) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerologLevel(level))

	// Console writer with friendly formatting for terminal output
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	ctx := zerolog.New(output).With().Timestamp()
	if level == TraceLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	log.Info().Msg("Logger initialized")
}

// GetLogger returns a configured logger for a specific component
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// zerologWriter wraps zerolog to implement io.Writer for stdlog
type zerologWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func (w zerologWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	// Strip the stdlog prefix (timestamp and flags) if present
	if idx := strings.LastIndex(msg, ": "); idx != -1 && idx < len(msg)-2 {
		msg = msg[idx+2:]
	}
	w.logger.WithLevel(w.level).Msg(msg)

	return len(p), nil
}

// NewLogLogger returns a configured stdlog.Logger that routes to zerolog.
// Used where a dependency only accepts the standard library logger.
func NewLogLogger(component string, lvl LogLevel) *stdlog.Logger {
	logger := log.With().Str("component", component).Logger()
	writer := zerologWriter{logger: logger, level: zerologLevel(lvl)}

	return stdlog.New(writer, "", 0)
}
