package util

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	stdlog "log"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slogzerolog "github.com/samber/slog-zerolog/v2"
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

// InitializeLogger sets up the global logger writing to stdout
func InitializeLogger(level LogLevel) {
	InitializeLoggerTo(os.Stdout, level)
}

// InitializeLoggerTo sets up the global logger with the specified level,
// rendering human-friendly console output to w
func InitializeLoggerTo(w io.Writer, level LogLevel) {
	// Set time format to ISO8601
	zerolog.TimeFieldFormat = time.RFC3339

	zerolog.SetGlobalLevel(ZerologLevel(level))

	// Create a console writer with nice formatting for terminal output
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}

	// Set global logger
	ctx := zerolog.New(output).With().Timestamp()
	if level == TraceLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	log.Debug().Msg("Logger initialized")
}

// ZerologLevel maps a LogLevel onto zerolog's; unknown values map to info
func ZerologLevel(level LogLevel) zerolog.Level {
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

// GetLogger returns a configured logger for a specific component
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func NewSlogHandler(component string, lvl slog.Level) slog.Handler {
	opt := slogzerolog.Option{Level: lvl}

	zlog := log.With().Str("component", component).Logger()
	opt.Logger = &zlog

	return opt.NewZerologHandler()
}

// NewLogLogger returns a stdlib logger routed to zerolog, for libraries
// such as net/http that only accept a *log.Logger
func NewLogLogger(component string) *stdlog.Logger {
	var slvl slog.Level
	switch zerolog.GlobalLevel() {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		slvl = slog.LevelDebug
	case zerolog.InfoLevel:
		slvl = slog.LevelInfo
	case zerolog.WarnLevel:
		slvl = slog.LevelWarn
	case zerolog.ErrorLevel:
		slvl = slog.LevelError
	default:
		slvl = slog.LevelInfo
	}
	handler := NewSlogHandler(component, slvl)

	return slog.NewLogLogger(handler, slog.LevelWarn)
}

// CtxLogger returns the request-scoped logger stored in ctx by the HTTP layer,
// falling back to a component logger when there is none
func CtxLogger(ctx context.Context, component string) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l.With().Str("component", component).Logger()
	}
	return GetLogger(component)
}
