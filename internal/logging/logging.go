// Package logging builds the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/inboxpilot/internal/config"
	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
)

// New returns a logger configured from cfg and a cleanup func that closes the log file, if any.
// Output goes to stdout as JSON (default) or tint console text; when cfg.File is set a JSON
// copy is fanned out to that file.
func New(cfg config.LogConfig) (*slog.Logger, func() error, error) {
	level := ParseLevel(cfg.Level)
	stdout := newHandler(os.Stdout, cfg.Format, level)

	if cfg.File == "" {
		return slog.New(stdout), func() error { return nil }, nil
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})

	return slog.New(slogmulti.Fanout(stdout, fileHandler)), file.Close, nil
}

// NewWithWriters builds the same handler stack against arbitrary writers (for testing).
func NewWithWriters(out, file io.Writer, format string, level slog.Level) *slog.Logger {
	h := newHandler(out, format, level)
	if file == nil {
		return slog.New(h)
	}
	return slog.New(slogmulti.Fanout(h, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})))
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	switch format {
	case "console", "text":
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	default:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
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
