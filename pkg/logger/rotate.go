package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rollingFile is a size-bounded append-only file. When a write would push the
// file past maxBytes it is shifted to path.1, path.1 to path.2 and so on.
type rollingFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	keep     int
	maxAge   time.Duration

	file    *os.File
	written int64
}

func newRollingFile(path string, maxSizeMB, keep, maxAgeDays int) (*rollingFile, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if keep <= 0 {
		keep = 5
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 14
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rollingFile{
		path:     path,
		maxBytes: int64(maxSizeMB) << 20,
		keep:     keep,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.open(); err != nil {
		return 0, err
	}
	if r.written+int64(len(p)) > r.maxBytes {
		r.shift()
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *rollingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.written = 0
	return err
}

func (r *rollingFile) open() error {
	if r.file != nil {
		return nil
	}
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	r.file = file
	r.written = info.Size()
	return nil
}

func (r *rollingFile) shift() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	r.written = 0

	for i := r.keep - 1; i >= 1; i-- {
		_ = os.Rename(backupName(r.path, i), backupName(r.path, i+1))
	}
	_ = os.Rename(r.path, backupName(r.path, 1))

	cutoff := time.Now().Add(-r.maxAge)
	for i := 1; i <= r.keep; i++ {
		name := backupName(r.path, i)
		if info, err := os.Stat(name); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(name)
		}
	}
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
