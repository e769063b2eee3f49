package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/pipeline"
	"github.com/a3tai/mcp-pdf-forms/internal/service"
	"github.com/a3tai/mcp-pdf-forms/internal/testpdf"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer returns a server over a temp directory holding form.pdf
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PDFDirectory = t.TempDir()
	cfg.ServerName = "test-server"
	cfg.OCREngine = config.OCRPDFText

	require.NoError(t, testpdf.Write(filepath.Join(cfg.PDFDirectory, "form.pdf"), testpdf.Document{
		Fields: []testpdf.Field{
			{Name: "email", Type: "Tx", Flags: 1 << 1, Rect: [4]float64{200, 600, 400, 620}},
			{Name: "agree", Type: "Btn", Rect: [4]float64{200, 500, 212, 512}},
		},
	}))

	svc, err := service.New(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	server, err := NewServer(cfg, svc, quietLogger())
	require.NoError(t, err)
	return server
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

// Helper function to extract text from a CallToolResult
func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
		if textContentPtr, ok := content.(*mcp.TextContent); ok {
			return textContentPtr.Text
		}
	}
	return ""
}

func TestNewServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PDFDirectory = t.TempDir()
	svc, err := service.New(cfg, nil)
	require.NoError(t, err)

	_, err = NewServer(nil, svc, nil)
	assert.Error(t, err)
	_, err = NewServer(cfg, nil, nil)
	assert.Error(t, err)

	server, err := NewServer(cfg, svc, nil)
	require.NoError(t, err)
	assert.Same(t, cfg, server.config)
	assert.Same(t, svc, server.service)
	assert.NotNil(t, server.mcpServer)
}

func TestHandleStructuredFields(t *testing.T) {
	server := newTestServer(t)

	result, err := server.handleStructuredFields(context.Background(), callRequest(map[string]any{
		"pdf_path": "form.pdf",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	text := extractTextFromResult(result)
	assert.Contains(t, text, "Total fields: 2")
	assert.Contains(t, text, "Name: email")
	assert.Contains(t, text, "Flags: required")
	assert.Contains(t, text, "Name: agree")
}

func TestHandleStructuredFieldsJSON(t *testing.T) {
	server := newTestServer(t)

	result, err := server.handleStructuredFields(context.Background(), callRequest(map[string]any{
		"pdf_path": "form.pdf",
		"page":     float64(1),
		"format":   "json",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	var decoded service.StructuredFieldsResult
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &decoded))
	require.Len(t, decoded.Pages, 1)
	require.Len(t, decoded.Pages[0].Fields, 2)
	assert.Equal(t, fields.KindText, decoded.Pages[0].Fields[0].Kind)
	assert.Equal(t, fields.ConfidenceHigh, decoded.Pages[0].Fields[0].Confidence)
	assert.Equal(t, fields.KindCheckbox, decoded.Pages[0].Fields[1].Kind)
}

func TestHandleDetectFields(t *testing.T) {
	server := newTestServer(t)

	result, err := server.handleDetectFields(context.Background(), callRequest(map[string]any{
		"pdf_path": "form.pdf",
		"format":   "json",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	var decoded service.DetectFieldsResult
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &decoded))
	assert.Equal(t, config.OCRPDFText, decoded.Recognizer)
	require.Len(t, decoded.Pages, 1)
	assert.Equal(t, 2, decoded.TotalFields)
	for _, f := range decoded.Pages[0].Fields {
		assert.Equal(t, fields.MethodStructuredAnnotation, f.Method)
		assert.Equal(t, 1, f.Page)
	}
}

func TestHandlerErrors(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		want    string
	}{
		{"detect without input", server.handleDetectFields, map[string]any{}, "pdf_path"},
		{"detect bad format", server.handleDetectFields, map[string]any{"pdf_path": "form.pdf", "format": "xml"}, "invalid format"},
		{"detect outside directory", server.handleDetectFields, map[string]any{"pdf_path": "/etc/passwd"}, "outside configured directory"},
		{"structured missing path", server.handleStructuredFields, map[string]any{}, "pdf_path"},
		{"structured missing file", server.handleStructuredFields, map[string]any{"pdf_path": "absent.pdf"}, "cannot access file"},
		{"structured page out of range", server.handleStructuredFields, map[string]any{"pdf_path": "form.pdf", "page": float64(4)}, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.handler(context.Background(), callRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractTextFromResult(result), tt.want)
		})
	}
}

func TestFormatDetectFieldsResult(t *testing.T) {
	label := fields.New(fields.KindText, geometry.NewRect(60, 700, 260, 718), fields.ConfidenceHigh, fields.MethodOCRLabel)
	label.Label = "Name:"
	radio := fields.New(fields.KindRadio, geometry.NewRect(60, 600, 72, 612), fields.ConfidenceHigh, fields.MethodStructuredAnnotation)
	radio.GroupName = "color"
	radio.Options = []string{"red", "blue"}

	text := FormatDetectFieldsResult(&service.DetectFieldsResult{
		FilePath:    "/forms/a.pdf",
		TotalPages:  1,
		Recognizer:  "tesseract",
		TotalFields: 2,
		Warnings:    []string{"something odd"},
		Pages: []*pipeline.PageResult{{
			Page:       1,
			Fields:     []fields.Record{label, radio},
			Candidates: 3,
			Duration:   12 * time.Millisecond,
			Detectors:  []pipeline.DetectorReport{{Detector: "label", Error: "engine crashed"}},
		}},
	})

	for _, want := range []string{
		"Form fields in: /forms/a.pdf",
		"Text recognizer: tesseract",
		"Warning: something odd",
		"Page 1: 2 field(s) from 3 candidate(s) in 12ms",
		"1. text ocr-label at [60.00 700.00 260.00 718.00] (high, 1.00)",
		"Label: Name:",
		"Group: color",
		"Options: red, blue",
		"label detector failed: engine crashed",
	} {
		assert.True(t, strings.Contains(text, want), "missing %q in:\n%s", want, text)
	}
}

func TestHandleServerInfo(t *testing.T) {
	server := newTestServer(t)

	result, err := server.handleServerInfo(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	text := extractTextFromResult(result)
	assert.Contains(t, text, "Server: test-server")
	assert.Contains(t, text, "Text recognizer: pdftext (eng)")
	assert.Contains(t, text, "- pdf_detect_fields:")
	assert.Contains(t, text, "Files (1):")
	assert.Contains(t, text, "form.pdf [pdf,")

	result, err = server.handleServerInfo(context.Background(), callRequest(map[string]any{"format": "json"}))
	require.NoError(t, err)
	var decoded service.ServerInfoResult
	require.NoError(t, json.Unmarshal([]byte(extractTextFromResult(result)), &decoded))
	assert.True(t, decoded.FromCache)
	require.Len(t, decoded.DirectoryContents, 1)
	assert.Equal(t, service.FileKindPDF, decoded.DirectoryContents[0].Kind)
}

func TestFormatStructuredFieldsResultEmpty(t *testing.T) {
	text := FormatStructuredFieldsResult(&service.StructuredFieldsResult{FilePath: "/forms/flat.pdf", TotalPages: 3})
	assert.Contains(t, text, "Total pages: 3")
	assert.Contains(t, text, "declares no form fields")
}
