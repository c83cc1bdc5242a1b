package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Rotator is a minimal size-triggered log rotator: `msgcode.log` is renamed
// to `.1`, `.1` to `.2`, and so on up to maxBackups, then a fresh file is
// opened. No ecosystem rotation library appears anywhere in the retrieval
// pack (see DESIGN.md), so this stays a small stdlib os wrapper; the
// handler writing through it is still slog, the piece the corpus grounds.
type Rotator struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int
	file       *os.File
	size       int64
}

// NewRotator opens (creating if needed) the log file at path.
func NewRotator(path string, maxBytes int64, maxBackups int) (*Rotator, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Rotator{
		path:       path,
		maxBytes:   maxBytes,
		maxBackups: maxBackups,
		file:       f,
		size:       info.Size(),
	}, nil
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotateLocked(); err != nil {
			// Rotation failures are recovered locally (spec §7): keep
			// writing to the existing file rather than losing log lines.
			fmt.Fprintf(os.Stderr, "msgcode: log rotation failed: %v\n", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *Rotator) rotateLocked() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	for i := r.maxBackups; i >= 1; i-- {
		src := r.backupPath(i)
		if i == r.maxBackups {
			_ = os.Remove(src)
			continue
		}
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, r.backupPath(i+1))
		}
	}
	if err := os.Rename(r.path, r.backupPath(1)); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	return nil
}

func (r *Rotator) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", r.path, n)
}

// Close flushes and closes the underlying file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
