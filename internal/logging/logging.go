// Package logging builds the structured logger shared by a run.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/portrait-cropper/internal/config"
)

// LogFilename is the log file written under the logs directory
const LogFilename = "pipeline.log"

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New creates a logger writing to w and, when cfg.File is set, appending to
// <logsDir>/pipeline.log. The returned close function releases the file.
func New(cfg config.LoggingConfig, logsDir string, w io.Writer) (*slog.Logger, func() error, error) {
	closer := func() error { return nil }

	if cfg.File && logsDir != "" {
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(logsDir, LogFilename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closer = f.Close
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}
