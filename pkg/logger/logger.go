package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the process-wide loggers are built.
type Config struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig controls the submission audit trail. Every automation
// registration attempt is written there in addition to the main log.
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

var (
	mu          sync.RWMutex
	mainLogger  *slog.Logger
	auditLogger *slog.Logger
	closers     []io.Closer
)

// Init (re)configures the global loggers. Calling it again replaces the
// previous handlers and closes any files they held.
func Init(cfg Config) error {
	level := parseLevel(cfg.Level)
	writer, owned, err := buildWriter(cfg.OutputPaths)
	if err != nil {
		return err
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	base := slog.New(handler)

	audit := base
	if cfg.Audit.Enabled {
		if strings.TrimSpace(cfg.Audit.Path) == "" {
			closeAll(owned)
			return errors.New("audit log path cannot be empty when enabled")
		}
		rolling, err := newRollingFile(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		if err != nil {
			closeAll(owned)
			return err
		}
		owned = append(owned, rolling)
		audit = slog.New(slog.NewJSONHandler(rolling, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	mu.Lock()
	previous := closers
	mainLogger = base
	auditLogger = audit
	closers = owned
	mu.Unlock()

	closeAll(previous)
	return nil
}

// SetOutput routes both loggers to w. Tests use it to capture output.
func SetOutput(w io.Writer) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	mu.Lock()
	mainLogger = slog.New(handler)
	auditLogger = mainLogger
	mu.Unlock()
}

// L returns the main structured logger.
func L() *slog.Logger {
	mu.RLock()
	l := mainLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if mainLogger == nil {
		mainLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return mainLogger
}

// Audit returns the audit logger, falling back to the main logger.
func Audit() *slog.Logger {
	mu.RLock()
	l := auditLogger
	mu.RUnlock()
	if l == nil {
		return L()
	}
	return l
}

// Named returns a child logger tagged with a component attribute.
func Named(component string) *slog.Logger {
	return L().With(slog.String("component", component))
}

// Sync closes every file opened by Init.
func Sync() error {
	mu.Lock()
	owned := closers
	closers = nil
	mu.Unlock()
	return closeAll(owned)
}

func buildWriter(outputs []string) (io.Writer, []io.Closer, error) {
	if len(outputs) == 0 {
		return os.Stdout, nil, nil
	}
	writers := make([]io.Writer, 0, len(outputs))
	var owned []io.Closer
	for _, out := range outputs {
		switch strings.ToLower(strings.TrimSpace(out)) {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				closeAll(owned)
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				closeAll(owned)
				return nil, nil, fmt.Errorf("open log file %s: %w", out, err)
			}
			owned = append(owned, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], owned, nil
	}
	return io.MultiWriter(writers...), owned, nil
}

func closeAll(owned []io.Closer) error {
	var err error
	for _, c := range owned {
		err = errors.Join(err, c.Close())
	}
	return err
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
