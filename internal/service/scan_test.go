package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestDirectoryScanner(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.pdf"))
	touch(t, filepath.Join(root, "scan.PNG"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, ".hidden.pdf"))
	touch(t, filepath.Join(root, "sub", "b.pdf"))
	touch(t, filepath.Join(root, "sub", "deeper", "c.pdf"))

	t.Run("all", func(t *testing.T) {
		s := &directoryScanner{}
		res, err := s.scan(context.Background(), root)
		require.NoError(t, err)
		assert.False(t, res.Truncated)

		kinds := map[string]string{}
		for _, f := range res.Files {
			kinds[f.Name] = f.Kind
		}
		assert.Equal(t, map[string]string{
			"a.pdf":    FileKindPDF,
			"scan.PNG": FileKindImage,
			"b.pdf":    FileKindPDF,
			"c.pdf":    FileKindPDF,
		}, kinds)
	})

	t.Run("depth", func(t *testing.T) {
		s := &directoryScanner{maxDepth: 2}
		res, err := s.scan(context.Background(), root)
		require.NoError(t, err)
		assert.Len(t, res.Files, 3)
	})

	t.Run("file limit", func(t *testing.T) {
		s := &directoryScanner{fileLimit: 1}
		res, err := s.scan(context.Background(), root)
		require.NoError(t, err)
		assert.Len(t, res.Files, 1)
		assert.True(t, res.Truncated)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := (&directoryScanner{}).scan(ctx, root)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDirectoryCacheExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newDirectoryCache(time.Minute)
	c.now = func() time.Time { return now }

	c.set("/forms", &scanResult{Files: []FileInfo{{Name: "a.pdf"}}, Truncated: true})
	entry, ok := c.get("/forms")
	require.True(t, ok)
	assert.Len(t, entry.files, 1)
	assert.True(t, entry.truncated)

	now = now.Add(2 * time.Minute)
	_, ok = c.get("/forms")
	assert.False(t, ok)
	_, ok = c.get("/other")
	assert.False(t, ok)
}

func TestServerInfo(t *testing.T) {
	svc, dir := newService(t, config.OCRPDFText)
	writeForm(t, dir)
	writeScan(t, dir)

	info, err := svc.ServerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mcp-pdf-forms", info.ServerName)
	assert.Equal(t, config.OCRPDFText, info.OCREngine)
	assert.False(t, info.FromCache)
	assert.Len(t, info.AvailableTools, 3)
	assert.Contains(t, info.UsageGuidance, "pdf_detect_fields")
	require.Len(t, info.DirectoryContents, 2)

	// a file added after the first scan is not seen until the cache expires
	touch(t, filepath.Join(dir, "late.pdf"))
	info, err = svc.ServerInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.FromCache)
	assert.Len(t, info.DirectoryContents, 2)
}
