package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"confluence-trading-bot/config"
)

// New builds the root logger. Components derive their own loggers from
// it with .With().Str("component", ...).Logger().
func New(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Console {
		out := zerolog.NewConsoleWriter()
		out.TimeFormat = "15:04:05"
		return zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
