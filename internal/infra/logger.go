package infra

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a JSON slog.Logger writing to stdout and a rotated file.
func NewLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(newLogWriter(cfg.Logging.Dir), &slog.HandlerOptions{
		Level: ParseLevel(cfg.Logging.Level),
	}))
}

func newLogWriter(logDir string) io.Writer {
	if logDir == "" {
		return os.Stdout
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// Fallback to stderr if directory creation fails
		return os.Stderr
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "trade-sim.log"),
		MaxSize:    10, // Megabytes
		MaxBackups: 3,
		MaxAge:     28, // Days
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, fileLogger)
}

// ParseLevel maps a config level name to a slog.Level; unknown names mean info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
