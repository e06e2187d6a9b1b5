package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
)

// ParseLogLevel maps a config level string to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger builds the process logger. "text" writes colourised output to
// stdout, anything else writes JSON. When logFile is set, records are also
// written as JSON to that file. The returned cleanup closes the file.
func SetupLogger(level, format, logFile string) (*slog.Logger, func() error) {
	lvl := ParseLogLevel(level)
	console := consoleHandler(os.Stdout, lvl, format)

	if logFile == "" {
		return slog.New(console), func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(console)
		logger.Error("failed to open log file, using stdout only", "error", err, "file", logFile)
		return logger, func() error { return nil }
	}

	return SetupLoggerWithWriters(os.Stdout, file, level, format), file.Close
}

// SetupLoggerWithWriters fans records out to a console writer and a JSON
// file writer.
func SetupLoggerWithWriters(console, file io.Writer, level, format string) *slog.Logger {
	lvl := ParseLogLevel(level)
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: lvl})
	return slog.New(slogmulti.Fanout(consoleHandler(console, lvl, format), fileHandler))
}

func consoleHandler(w io.Writer, lvl slog.Level, format string) slog.Handler {
	if format == "text" {
		return tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
}
