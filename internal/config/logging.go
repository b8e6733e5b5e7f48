package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// LogPath is the configured log file, or bookwatch.log under the data dir.
func (s Settings) LogPath() string {
	if s.Log.File != "" {
		return s.Log.File
	}
	return filepath.Join(s.DataDir, "bookwatch.log")
}

// NewLogger builds the process logger. The terminal belongs to the TUI, so
// output goes to the log file; the returned func closes it.
func NewLogger(settings Settings) (*logrus.Logger, func(), error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(settings.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch settings.Log.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}

	path := settings.LogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.SetOutput(io.Discard)
		return logger, func() {}, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		logger.SetOutput(io.Discard)
		return logger, func() {}, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, func() {
		_ = f.Close()
	}, nil
}
