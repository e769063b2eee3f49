// Package security restricts file access to the configured input directory.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideDirectory is returned for paths escaping the configured directory
	ErrOutsideDirectory = errors.New("path is outside configured directory")
	// ErrFileTooLarge is returned when an input exceeds the size limit
	ErrFileTooLarge = errors.New("file exceeds maximum size")
)

// PathValidator resolves user supplied paths against the configured directory
type PathValidator struct {
	dir         string
	maxFileSize int64
}

// NewPathValidator creates a validator for dir. maxFileSize of zero disables
// the size check.
func NewPathValidator(dir string, maxFileSize int64) (*PathValidator, error) {
	if dir == "" {
		return nil, errors.New("configured directory cannot be empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configured directory: %w", err)
	}
	return &PathValidator{dir: filepath.Clean(abs), maxFileSize: maxFileSize}, nil
}

// Directory returns the absolute configured directory
func (v *PathValidator) Directory() string {
	return v.dir
}

// Resolve returns the absolute form of path. Relative paths are taken relative
// to the configured directory; null bytes are stripped.
func (v *PathValidator) Resolve(path string) (string, error) {
	path = strings.ReplaceAll(path, "\x00", "")
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(v.dir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !v.Contains(abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDirectory, path)
	}
	return abs, nil
}

// Contains reports whether an absolute path lies inside the configured
// directory, both lexically and after resolving symlinks.
func (v *PathValidator) Contains(path string) bool {
	clean := filepath.Clean(path)

	// Handle symlinks - evaluate the real paths for both input path and directory
	real := clean
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		real = resolved
	}
	realDir := v.dir
	if resolved, err := filepath.EvalSymlinks(v.dir); err == nil {
		realDir = resolved
	}

	within := func(p string) bool {
		return isWithin(p, v.dir) || isWithin(p, realDir)
	}
	return within(clean) && within(real)
}

func isWithin(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// OpenFile resolves path and checks that it names a regular file within the
// size limit. The returned path is absolute.
func (v *PathValidator) OpenFile(path string) (string, error) {
	abs, err := v.Resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory: %s", path)
	}
	if v.maxFileSize > 0 && info.Size() > v.maxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, info.Size(), v.maxFileSize)
	}
	return abs, nil
}
