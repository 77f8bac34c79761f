// Package logger provides structured logging on top of zerolog.
// Supports JSON output for production and pretty console output for
// development.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log is the global logger instance, initialized by Init() or, lazily,
// by the package init().
var log zerolog.Logger

// Config holds logger initialization settings.
type Config struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info".
	Level string

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output is the writer logs are sent to. Defaults to os.Stdout.
	Output io.Writer
}

func init() {
	pretty := strings.ToLower(os.Getenv("LOG_PRETTY")) == "true"

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	Init(Config{
		Level:  level,
		Pretty: pretty,
	})
}

// Init configures the global logger. Call once at process startup.
func Init(cfg Config) {
	var output io.Writer = os.Stdout

	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	level := parseLevel(cfg.Level)

	log = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

// parseLevel converts a level name to zerolog.Level, defaulting to Info
// for unrecognized values.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug starts a debug-level log event.
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info starts an info-level log event.
func Info() *zerolog.Event {
	return log.Info()
}

// Warn starts a warn-level log event.
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error starts an error-level log event.
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal starts a fatal-level log event; the process exits after Msg().
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// Panic starts a panic-level log event; Msg() triggers a panic.
func Panic() *zerolog.Event {
	return log.Panic()
}

// With returns a zerolog.Context for building a derived logger with
// additional fields, e.g. logger.With().Str("component", "orchestrator").Logger().
func With() zerolog.Context {
	return log.With()
}

// Logger returns the global zerolog.Logger instance directly.
func Logger() zerolog.Logger {
	return log
}

// SetGlobalLogger overrides the global logger, mainly for tests.
func SetGlobalLogger(l zerolog.Logger) {
	log = l
}
