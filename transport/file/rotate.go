package file

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// RotateConfig controls a RotatingFile.
type RotateConfig struct {
	// Path of the active file. Its directory is created when missing.
	Path string

	// MaxBytes rotates before a write would grow the file past this size.
	// Zero leaves rotation to an external tool (see Reopen).
	MaxBytes int64

	// MaxBackups is how many rotated files (Path.1 … Path.N) are kept
	// (default 5).
	MaxBackups int

	// Mode for newly created files (default 0644).
	Mode os.FileMode
}

// RotatingFile is an append-only io.WriteCloser with size-based rotation.
// It is safe for concurrent use.
type RotatingFile struct {
	cfg    RotateConfig
	logger *slog.Logger

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewRotatingFile opens cfg.Path for appending.
func NewRotatingFile(cfg RotateConfig, logger *slog.Logger) (*RotatingFile, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("transport/file: rotating file needs a path")
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.Mode == 0 {
		cfg.Mode = 0o644
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("transport/file: %w", err)
	}

	rf := &RotatingFile{cfg: cfg, logger: logger}
	f, size, err := openAppend(cfg.Path, cfg.Mode)
	if err != nil {
		return nil, err
	}
	rf.f, rf.size = f, size
	return rf, nil
}

// Write appends p, rotating first when p would not fit. A record larger than
// MaxBytes still goes into a fresh file of its own.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.f == nil {
		return 0, os.ErrClosed
	}
	if rf.cfg.MaxBytes > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.cfg.MaxBytes {
		if err := rf.rotateLocked(); err != nil {
			rf.logger.Error("transport/file: rotation failed", "path", rf.cfg.Path, "error", err.Error())
			if rf.f == nil {
				return 0, err
			}
		}
	}
	n, err := rf.f.Write(p)
	rf.size += int64(n)
	return n, err
}

// Reopen closes and reopens Path. Call it after an external tool such as
// logrotate has moved the file away.
func (rf *RotatingFile) Reopen() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return os.ErrClosed
	}
	_ = rf.f.Close()
	f, size, err := openAppend(rf.cfg.Path, rf.cfg.Mode)
	if err != nil {
		rf.f = nil
		return err
	}
	rf.f, rf.size = f, size
	rf.logger.Info("transport/file: reopened", "path", rf.cfg.Path, "size", size)
	return nil
}

// Size is the active file's size in bytes.
func (rf *RotatingFile) Size() int64 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.size
}

// Close closes the active file. Later writes fail with os.ErrClosed.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.f == nil {
		return nil
	}
	err := rf.f.Close()
	rf.f = nil
	return err
}

// rotateLocked moves the active file to Path.1 and starts an empty one. When
// the rename fails the old file is reopened and keeps growing.
func (rf *RotatingFile) rotateLocked() error {
	_ = rf.f.Close()
	rf.f = nil

	shiftErr := shiftBackups(rf.cfg.Path, rf.cfg.MaxBackups)
	f, size, err := openAppend(rf.cfg.Path, rf.cfg.Mode)
	if err != nil {
		return err
	}
	rf.f, rf.size = f, size
	if shiftErr != nil {
		return shiftErr
	}
	rf.logger.Info("transport/file: rotated", "path", rf.cfg.Path, "keep", rf.cfg.MaxBackups)
	return nil
}

// shiftBackups renames path.(keep-1) → path.keep … path → path.1. The oldest
// backup is overwritten.
func shiftBackups(path string, keep int) error {
	name := func(i int) string { return fmt.Sprintf("%s.%d", path, i) }
	_ = os.Remove(name(keep))
	for i := keep - 1; i >= 1; i-- {
		if err := os.Rename(name(i), name(i+1)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("transport/file: shift %s: %w", name(i), err)
		}
	}
	if err := os.Rename(path, name(1)); err != nil {
		return fmt.Errorf("transport/file: rotate %s: %w", path, err)
	}
	return nil
}

func openAppend(path string, mode os.FileMode) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, mode)
	if err != nil {
		return nil, 0, fmt.Errorf("transport/file: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("transport/file: stat: %w", err)
	}
	return f, info.Size(), nil
}
