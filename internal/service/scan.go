package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

// Input file kinds reported by the directory scan
const (
	FileKindPDF   = "pdf"
	FileKindImage = "image"
)

// FileInfo describes one analyzable file in the configured directory
type FileInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

// scanResult is the outcome of one directory scan
type scanResult struct {
	Files        []FileInfo
	FromCache    bool
	CacheAge     time.Duration
	FilesScanned int
	Truncated    bool
}

// directoryCache keeps scan results for a fixed time
type directoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	files      []FileInfo
	truncated  bool
	lastUpdate time.Time
}

func newDirectoryCache(ttl time.Duration) *directoryCache {
	return &directoryCache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

// get returns a fresh entry for dir, dropping it once expired
func (c *directoryCache) get(dir string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[dir]
	if !ok {
		return cacheEntry{}, false
	}
	if c.now().Sub(entry.lastUpdate) > c.ttl {
		delete(c.entries, dir)
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *directoryCache) set(dir string, res *scanResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[dir] = cacheEntry{files: res.Files, truncated: res.Truncated, lastUpdate: c.now()}
}

// directoryScanner walks a directory for PDFs and page images within depth,
// file count and time limits. Hidden entries and symlinks are skipped.
type directoryScanner struct {
	maxDepth  int
	fileLimit int
	timeLimit time.Duration
}

func (s *directoryScanner) scan(ctx context.Context, root string) (*scanResult, error) {
	res := &scanResult{}
	start := time.Now()
	err := s.walk(ctx, root, 0, start, res)
	return res, err
}

func (s *directoryScanner) walk(ctx context.Context, dir string, depth int, start time.Time, res *scanResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.maxDepth > 0 && depth >= s.maxDepth {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil // unreadable directories are skipped
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.limitReached(res, start) {
			res.Truncated = true
			return nil
		}

		res.FilesScanned++
		name := entry.Name()
		if strings.HasPrefix(name, ".") || entry.Type()&os.ModeSymlink != 0 {
			continue
		}

		path := filepath.Join(dir, name)
		if entry.IsDir() {
			if err := s.walk(ctx, path, depth+1, start, res); err != nil {
				return err
			}
			continue
		}

		kind := fileKind(name)
		if kind == "" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		res.Files = append(res.Files, FileInfo{
			Path:         path,
			Name:         name,
			Kind:         kind,
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format("2006-01-02 15:04:05"),
		})
	}
	return nil
}

func (s *directoryScanner) limitReached(res *scanResult, start time.Time) bool {
	if s.fileLimit > 0 && len(res.Files) >= s.fileLimit {
		return true
	}
	return s.timeLimit > 0 && time.Since(start) > s.timeLimit
}

func fileKind(name string) string {
	switch {
	case strings.EqualFold(filepath.Ext(name), ".pdf"):
		return FileKindPDF
	case raster.IsImageFile(name):
		return FileKindImage
	}
	return ""
}
