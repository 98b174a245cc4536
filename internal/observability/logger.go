package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination (stdout, stderr).
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger builds the service logger from configuration. The configured
// level is also applied globally so package-default loggers obey it.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	output := pickOutput(cfg.Output)
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.AddSource {
		ctx = ctx.Caller()
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return ctx.Logger().Level(level)
}

// pickOutput resolves the configured destination, defaulting to stdout.
func pickOutput(name string) io.Writer {
	if strings.ToLower(name) == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps a configured level name onto zerolog's scale. Unknown
// names fall back to info.
func parseLevel(level string) zerolog.Level {
	name := strings.ToLower(level)
	if name == "warning" {
		name = "warn"
	}
	if lvl, err := zerolog.ParseLevel(name); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

// WithSessionContext adds session and conversation fields to a logger.
func WithSessionContext(logger zerolog.Logger, sessionID, conversationID string) zerolog.Logger {
	return logger.With().
		Str("session_id", sessionID).
		Str("conversation_id", conversationID).
		Logger()
}

// WithRequestContext adds HTTP request correlation fields to a logger.
func WithRequestContext(logger zerolog.Logger, requestID, method, path string) zerolog.Logger {
	return logger.With().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Logger()
}

// WithSourceContext adds selected-source fields to a logger.
func WithSourceContext(logger zerolog.Logger, sourceID, title string) zerolog.Logger {
	return logger.With().
		Str("source_id", sourceID).
		Str("source_title", title).
		Logger()
}

// WithReportContext adds report status machine fields to a logger.
func WithReportContext(logger zerolog.Logger, from, to string) zerolog.Logger {
	return logger.With().
		Str("from_status", from).
		Str("to_status", to).
		Logger()
}
