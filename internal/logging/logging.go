// Package logging provides the pipeline's structured logging, backed by
// zerolog. One process-global logger is configured once at startup from
// the verbose flag, then every package logs through it rather than
// fmt.Printf. It writes to the configured io.Writer; there is no log-file
// option.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level aliases the underlying zerolog level type.
type Level = zerolog.Level

// Log levels exposed for convenience.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to output.
	Level Level
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Pretty enables human-readable console output, for interactive runs.
	Pretty bool
}

// DefaultConfig returns the configuration used when Init has not been
// called explicitly: info level, plain JSON to stderr.
func DefaultConfig() Config {
	return Config{Level: InfoLevel, Output: os.Stderr}
}

// Init (re)configures the global logger.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(output).Level(cfg.Level).With().Timestamp().Logger()
}

// Stage returns a child logger tagged with the given pipeline stage name,
// so every line it emits carries stage="<name>" for log-based filtering.
func Stage(name string) zerolog.Logger {
	return Logger.With().Str("stage", name).Logger()
}

func init() {
	Init(DefaultConfig())
}
