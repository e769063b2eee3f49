package service

import (
	"context"
	"fmt"
	"time"

	"github.com/a3tai/mcp-pdf-forms/internal/descriptions"
)

const (
	infoCacheTTL  = 5 * time.Minute
	scanMaxDepth  = 5
	scanFileLimit = 100
	scanTimeLimit = 3 * time.Second
)

// ToolInfo describes one MCP tool
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  string `json:"parameters"`
}

// ServerInfoResult reports server settings and the files available to analyze
type ServerInfoResult struct {
	ServerName        string     `json:"server_name"`
	Version           string     `json:"version"`
	Mode              string     `json:"mode"`
	Directory         string     `json:"directory"`
	MaxFileSize       int64      `json:"max_file_size"`
	OCREngine         string     `json:"ocr_engine"`
	OCRLanguages      []string   `json:"ocr_languages"`
	RenderScale       float64    `json:"render_scale"`
	Concurrency       int        `json:"concurrency"`
	AvailableTools    []ToolInfo `json:"available_tools"`
	DirectoryContents []FileInfo `json:"directory_contents"`
	FromCache         bool       `json:"from_cache"`
	Truncated         bool       `json:"truncated"`
	UsageGuidance     string     `json:"usage_guidance"`
}

// ServerInfo returns the server configuration and a listing of the PDFs and
// page images under the configured directory. Listings are cached.
func (s *Service) ServerInfo(ctx context.Context) (*ServerInfoResult, error) {
	dir := s.paths.Directory()

	entry, cached := s.dirCache.get(dir)
	if !cached {
		res, err := s.scanner.scan(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
		s.dirCache.set(dir, res)
		entry = cacheEntry{files: res.Files, truncated: res.Truncated}
		s.logger.Debug("directory scanned", "dir", dir, "count", len(res.Files), "scanned", res.FilesScanned)
	}

	files := entry.files
	if files == nil {
		files = []FileInfo{}
	}
	return &ServerInfoResult{
		ServerName:        s.cfg.ServerName,
		Version:           s.cfg.Version,
		Mode:              s.cfg.Mode,
		Directory:         dir,
		MaxFileSize:       s.cfg.MaxFileSize,
		OCREngine:         s.cfg.OCREngine,
		OCRLanguages:      s.cfg.OCRLanguages,
		RenderScale:       s.cfg.RenderScale,
		Concurrency:       s.cfg.Concurrency,
		AvailableTools:    availableTools(),
		DirectoryContents: files,
		FromCache:         cached,
		Truncated:         entry.truncated,
		UsageGuidance:     s.usageGuidance(),
	}, nil
}

func availableTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        descriptions.ToolDetectFields,
			Description: descriptions.GetToolDescription(descriptions.ToolDetectFields),
			Parameters: "pdf_path (optional), image_path (optional), page (optional), page_height (optional), " +
				"scale (optional), format (optional): at least one of pdf_path or image_path",
		},
		{
			Name:        descriptions.ToolStructuredFields,
			Description: descriptions.GetToolDescription(descriptions.ToolStructuredFields),
			Parameters:  "pdf_path (required), page (optional), format (optional)",
		},
		{
			Name:        descriptions.ToolServerInfo,
			Description: descriptions.GetToolDescription(descriptions.ToolServerInfo),
			Parameters:  "format (optional)",
		},
	}
}

func (s *Service) usageGuidance() string {
	return fmt.Sprintf(`PDF Forms MCP Server Usage Guide:

1. DISCOVER INPUTS:
   - Use 'pdf_server_info' to list PDFs and page images under %s

2. DECLARED FIELDS:
   - Use 'pdf_structured_fields' to read the AcroForm of an interactive PDF

3. DETECT FIELDS:
   - Use 'pdf_detect_fields' with pdf_path to analyze every page of a PDF
   - Add image_path and page to analyze a rendered or scanned page
   - scale is image pixels per PDF unit (default %.2f)

IMPORTANT NOTES:
- Paths are resolved against the configured directory and must stay inside it
- The server handles files up to %dMB
- Text recognizer: %s`, s.paths.Directory(), s.cfg.RenderScale, s.cfg.MaxFileSize/(1024*1024), s.cfg.OCREngine)
}
