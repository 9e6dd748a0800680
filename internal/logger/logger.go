// Package logger configures the process-wide zerolog logger for rnrd and
// rnrctl. Components derive child loggers with WithComponent.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, format and destination of the global logger
type Config struct {
	// Level is a zerolog level name; unknown or empty means info
	Level string
	// Format is "json" (default) or "text" for a console writer
	Format string
	// Output is "stdout", "stderr" or a file path
	Output string
	// Rotation hands file output to lumberjack using the Max* limits
	Rotation   bool
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	// Service and Node are stamped on every line
	Service string
	Node    string
}

// Init replaces the global logger
func Init(cfg *Config) error {
	out, err := output(cfg)
	if err != nil {
		return err
	}
	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	lc := zerolog.New(out).With().Timestamp().Str("service", orDefault(cfg.Service, "rnr"))
	if cfg.Node != "" {
		lc = lc.Str("node", cfg.Node)
	}
	log.Logger = lc.Logger()
	return nil
}

func output(cfg *Config) (io.Writer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if cfg.Rotation {
		return &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}, nil
	}
	return os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Logger returns the global logger
func Logger() zerolog.Logger {
	return log.Logger
}

// WithComponent returns a child of the global logger tagged with component
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// Nop returns a disabled logger
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
