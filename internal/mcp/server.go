package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/descriptions"
	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/service"
)

// Output formats accepted by every tool
const (
	FormatText = "text"
	FormatJSON = "json"
)

const shutdownTimeout = 5 * time.Second

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	service   *service.Service
	mcpServer *server.MCPServer
	logger    *slog.Logger

	stdin  io.Reader
	stdout io.Writer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, svc *service.Service, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if svc == nil {
		return nil, errors.New("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Create MCP server
	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false), // We don't support dynamic tool capabilities
	)

	s := &Server{
		config:    cfg,
		service:   svc,
		mcpServer: mcpServer,
		logger:    logger,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
	}

	// Register tools
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	detectTool := mcp.NewTool(
		descriptions.ToolDetectFields,
		mcp.WithDescription(descriptions.GetToolDescription(descriptions.ToolDetectFields)),
		mcp.WithString("pdf_path",
			mcp.Description("Path to the PDF file, relative to the configured directory or absolute inside it"),
		),
		mcp.WithString("image_path",
			mcp.Description("Path to a rendered image of the page; without it the page is analyzed from the PDF alone"),
		),
		mcp.WithNumber("page",
			mcp.Description("1-based page number; every page of the PDF when omitted"),
		),
		mcp.WithNumber("page_height",
			mcp.Description("Page height in PDF units; read from the PDF or derived from the image when omitted"),
		),
		mcp.WithNumber("scale",
			mcp.Description("Image pixels per PDF unit (default from configuration)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'text' (default) or 'json'"),
		),
	)
	s.mcpServer.AddTool(detectTool, s.handleDetectFields)

	structuredTool := mcp.NewTool(
		descriptions.ToolStructuredFields,
		mcp.WithDescription(descriptions.GetToolDescription(descriptions.ToolStructuredFields)),
		mcp.WithString("pdf_path",
			mcp.Required(),
			mcp.Description("Path to the PDF file"),
		),
		mcp.WithNumber("page",
			mcp.Description("1-based page number; every page when omitted"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'text' (default) or 'json'"),
		),
	)
	s.mcpServer.AddTool(structuredTool, s.handleStructuredFields)

	infoTool := mcp.NewTool(
		descriptions.ToolServerInfo,
		mcp.WithDescription(descriptions.GetToolDescription(descriptions.ToolServerInfo)),
		mcp.WithString("format",
			mcp.Description("Output format: 'text' (default) or 'json'"),
		),
	)
	s.mcpServer.AddTool(infoTool, s.handleServerInfo)
}

// Tool handlers

func (s *Server) handleDetectFields(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	format, err := formatArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := service.DetectFieldsRequest{
		PDFPath: stringArg(args, "pdf_path"),
		Scale:   numberArg(args, "scale"),
	}
	page := int(numberArg(args, "page"))
	imagePath := stringArg(args, "image_path")
	if page > 0 || imagePath != "" {
		if page == 0 {
			page = 1
		}
		req.Pages = []service.PageSpec{{
			Page:       page,
			ImagePath:  imagePath,
			PageHeight: numberArg(args, "page_height"),
		}}
	}

	result, err := s.service.DetectFields(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if format == FormatJSON {
		return jsonResult(result)
	}
	return mcp.NewToolResultText(FormatDetectFieldsResult(result)), nil
}

func (s *Server) handleStructuredFields(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("pdf_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()

	format, err := formatArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := service.StructuredFieldsRequest{PDFPath: path, Page: int(numberArg(args, "page"))}
	result, err := s.service.StructuredFields(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if format == FormatJSON {
		return jsonResult(result)
	}
	return mcp.NewToolResultText(FormatStructuredFieldsResult(result)), nil
}

func (s *Server) handleServerInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := formatArg(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.service.ServerInfo(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if format == FormatJSON {
		return jsonResult(result)
	}
	return mcp.NewToolResultText(FormatServerInfoResult(result)), nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// numberArg reads a JSON number, which arrives as float64
func numberArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func formatArg(args map[string]any) (string, error) {
	switch f := stringArg(args, "format"); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid format %q (must be 'text' or 'json')", f)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Formatting methods

// FormatDetectFieldsResult renders detected fields as plain text
func FormatDetectFieldsResult(result *service.DetectFieldsResult) string {
	var b strings.Builder
	if result.FilePath != "" {
		fmt.Fprintf(&b, "Form fields in: %s\n", result.FilePath)
		fmt.Fprintf(&b, "Total pages: %d\n", result.TotalPages)
	}
	fmt.Fprintf(&b, "Text recognizer: %s\n", result.Recognizer)
	fmt.Fprintf(&b, "Total fields: %d\n", result.TotalFields)
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}

	for _, page := range result.Pages {
		fmt.Fprintf(&b, "\nPage %d: %d field(s) from %d candidate(s) in %s\n",
			page.Page, len(page.Fields), page.Candidates, page.Duration.Round(time.Millisecond))
		writeFields(&b, page.Fields)
		for _, d := range page.Detectors {
			if d.Error != "" {
				fmt.Fprintf(&b, "   %s detector failed: %s\n", d.Detector, d.Error)
			}
		}
	}
	return b.String()
}

// FormatStructuredFieldsResult renders declared fields as plain text
func FormatStructuredFieldsResult(result *service.StructuredFieldsResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Declared form fields in: %s\n", result.FilePath)
	fmt.Fprintf(&b, "Total pages: %d\n", result.TotalPages)
	fmt.Fprintf(&b, "Total fields: %d\n", result.TotalFields)

	if result.TotalFields == 0 {
		b.WriteString("\nThe document declares no form fields.\n")
		return b.String()
	}
	for _, page := range result.Pages {
		fmt.Fprintf(&b, "\nPage %d:\n", page.Page)
		writeFields(&b, page.Fields)
	}
	return b.String()
}

// FormatServerInfoResult renders server settings and the directory listing as plain text
func FormatServerInfoResult(result *service.ServerInfoResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Server: %s v%s (%s mode)\n", result.ServerName, result.Version, result.Mode)
	fmt.Fprintf(&b, "Directory: %s\n", result.Directory)
	fmt.Fprintf(&b, "Max file size: %d bytes\n", result.MaxFileSize)
	fmt.Fprintf(&b, "Text recognizer: %s (%s)\n", result.OCREngine, strings.Join(result.OCRLanguages, "+"))
	fmt.Fprintf(&b, "Render scale: %.2f\n", result.RenderScale)
	fmt.Fprintf(&b, "Concurrency: %d\n", result.Concurrency)

	b.WriteString("\nAvailable tools:\n")
	for _, tool := range result.AvailableTools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Parameters)
	}

	fmt.Fprintf(&b, "\nFiles (%d", len(result.DirectoryContents))
	if result.Truncated {
		b.WriteString(", truncated")
	}
	if result.FromCache {
		b.WriteString(", cached")
	}
	b.WriteString("):\n")
	for _, f := range result.DirectoryContents {
		fmt.Fprintf(&b, "- %s [%s, %d bytes, modified %s]\n", f.Path, f.Kind, f.Size, f.ModifiedTime)
	}

	b.WriteString("\n")
	b.WriteString(result.UsageGuidance)
	b.WriteString("\n")
	return b.String()
}

func writeFields(b *strings.Builder, records []fields.Record) {
	for i, r := range records {
		fmt.Fprintf(b, "%d. %s %s at %s (%s, %.2f)\n", i+1, r.Kind, r.Method, r.Rect, r.Confidence, r.Score)
		if r.Name != "" {
			fmt.Fprintf(b, "   Name: %s\n", r.Name)
		}
		if r.Label != "" {
			fmt.Fprintf(b, "   Label: %s\n", r.Label)
		}
		if r.GroupName != "" {
			fmt.Fprintf(b, "   Group: %s\n", r.GroupName)
		}
		if r.Value != "" {
			fmt.Fprintf(b, "   Value: %s\n", r.Value)
		}
		if len(r.Options) > 0 {
			fmt.Fprintf(b, "   Options: %s\n", strings.Join(r.Options, ", "))
		}
		if r.Required || r.ReadOnly {
			var flags []string
			if r.Required {
				flags = append(flags, "required")
			}
			if r.ReadOnly {
				flags = append(flags, "read-only")
			}
			fmt.Fprintf(b, "   Flags: %s\n", strings.Join(flags, ", "))
		}
	}
}

// Run starts the MCP server in the configured mode and returns once ctx is done
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode serves MCP over standard input and output
func (s *Server) runStdioMode(ctx context.Context) error {
	s.logger.Debug("starting MCP server in stdio mode", "dir", s.config.PDFDirectory)

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	err := stdio.Listen(ctx, s.stdin, s.stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves MCP over HTTP with server-sent events
func (s *Server) runServerMode(ctx context.Context) error {
	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting MCP server in SSE mode", "addr", addr, "dir", s.config.PDFDirectory)
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve SSE on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sse.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down SSE server: %w", err)
	}
	s.logger.Info("MCP server stopped", "addr", addr)
	return nil
}
