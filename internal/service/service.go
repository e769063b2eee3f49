// Package service validates requests, loads documents and page rasters, and
// runs the detection pipeline for every outer surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/a3tai/mcp-pdf-forms/internal/annotation"
	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr/pdftext"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr/tesseract"
	"github.com/a3tai/mcp-pdf-forms/internal/pipeline"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
	"github.com/a3tai/mcp-pdf-forms/internal/security"
)

// ErrNoInput is returned when a request names neither a PDF nor a page image
var ErrNoInput = errors.New("either pdf_path or at least one page image is required")

// Service runs form detection on files inside the configured directory
type Service struct {
	cfg    *config.Config
	paths  *security.PathValidator
	logger *slog.Logger

	dirCache *directoryCache
	scanner  *directoryScanner

	// ocr is the process-wide tesseract session, opened on first use
	ocr *ocr.Session

	// tesseract is swapped in tests, where no OCR engine is installed
	tesseract func(cfg tesseract.Config) ocr.Opener
}

// New creates a service bound to cfg.PDFDirectory
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	paths, err := security.NewPathValidator(cfg.PDFDirectory, cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create path validator: %w", err)
	}
	s := &Service{
		cfg:       cfg,
		paths:     paths,
		logger:    logger,
		dirCache:  newDirectoryCache(infoCacheTTL),
		scanner:   &directoryScanner{maxDepth: scanMaxDepth, fileLimit: scanFileLimit, timeLimit: scanTimeLimit},
		tesseract: tesseract.Opener,
	}
	s.ocr = ocr.NewSession(func(ctx context.Context) (ocr.Recognizer, error) {
		return s.tesseract(tesseract.Config{Languages: cfg.OCRLanguages})(ctx)
	}, logger)
	return s, nil
}

// Close shuts down the tesseract engine if it was started
func (s *Service) Close() error {
	return s.ocr.Close()
}

// Directory returns the directory requests are resolved against
func (s *Service) Directory() string {
	return s.paths.Directory()
}

// DetectFields runs every detector on the requested pages and returns the
// fused fields per page. Pages without an image are analyzed on a blank canvas
// of the PDF page's size, so only declared fields and document text contribute.
func (s *Service) DetectFields(ctx context.Context, req DetectFieldsRequest) (*DetectFieldsResult, error) {
	if req.PDFPath == "" && len(req.Pages) == 0 {
		return nil, ErrNoInput
	}
	scale := req.Scale
	if scale == 0 {
		scale = s.cfg.RenderScale
	}
	if scale < 0 {
		return nil, fmt.Errorf("scale must be positive, got %v", scale)
	}

	result := &DetectFieldsResult{}

	var src *annotation.PDFSource
	var pdfPath string
	if req.PDFPath != "" {
		var err error
		if pdfPath, err = s.paths.OpenFile(req.PDFPath); err != nil {
			return nil, fmt.Errorf("security validation failed: %w", err)
		}
		if src, err = annotation.OpenPDF(pdfPath); err != nil {
			return nil, err
		}
		result.FilePath = pdfPath
		result.TotalPages = src.PageCount()
	}

	specs := req.Pages
	if len(specs) == 0 {
		for page := 1; page <= result.TotalPages; page++ {
			specs = append(specs, PageSpec{Page: page})
		}
	}

	inputs := make([]pipeline.PageInput, 0, len(specs))
	names := make(map[int]string, len(specs))
	var used []string
	fallbacks := make(map[string][]int)
	for _, spec := range specs {
		page, err := s.loadPage(src, spec, scale)
		if err != nil {
			return nil, err
		}
		in := pipeline.PageInput{Page: page.Number, Raster: page}

		name := s.pageRecognizer(pdfPath, spec.ImagePath != "")
		if name == config.OCRTesseract {
			in.Recognizer = s.ocr
		}
		if name != s.cfg.OCREngine {
			fallbacks[name] = append(fallbacks[name], page.Number)
		}
		if !slices.Contains(used, name) {
			used = append(used, name)
		}
		names[page.Number] = name
		inputs = append(inputs, in)
	}

	result.Recognizer = strings.Join(used, "+")
	for _, name := range used {
		if pages, ok := fallbacks[name]; ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("text recognizer %q unavailable for page(s) %v, using %q", s.cfg.OCREngine, pages, name))
		}
	}

	opts := s.pipelineOptions()
	if slices.Contains(used, config.OCRPDFText) {
		opts.Recognizer = pdftext.Opener(pdfPath)
	}
	if src != nil {
		opts.Annotations = src
	}
	driver := pipeline.New(opts)
	defer driver.Close()

	pages, err := driver.DetectPages(ctx, inputs)
	if err != nil {
		return nil, err
	}
	result.Pages = pages
	for _, p := range pages {
		p.Recognizer = names[p.Page]
		result.TotalFields += len(p.Fields)
	}

	s.logger.Info("fields detected",
		"file", result.FilePath,
		"pages", len(pages),
		"count", result.TotalFields,
		"recognizer", result.Recognizer)
	return result, nil
}

// loadPage builds the raster for one page spec
func (s *Service) loadPage(src *annotation.PDFSource, spec PageSpec, scale float64) (*raster.Page, error) {
	if spec.Page < 1 {
		return nil, fmt.Errorf("page must be at least 1, got %d", spec.Page)
	}

	if spec.ImagePath == "" {
		if src == nil {
			return nil, fmt.Errorf("page %d: %w", spec.Page, ErrNoInput)
		}
		width, height, err := src.PageSize(spec.Page)
		if err != nil {
			return nil, err
		}
		if spec.PageHeight > 0 {
			height = spec.PageHeight
		}
		return raster.Blank(spec.Page, width, height, scale)
	}

	path, err := s.paths.OpenFile(spec.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("security validation failed: %w", err)
	}
	img, err := raster.Load(path)
	if err != nil {
		return nil, err
	}

	height := spec.PageHeight
	if height <= 0 && src != nil {
		if height, err = src.PageHeight(spec.Page); err != nil {
			return nil, err
		}
	}
	if height <= 0 {
		height = float64(img.Bounds().Dy()) / scale
	}
	return raster.NewPage(spec.Page, img, height, scale)
}

// pageRecognizer picks the text recognizer for one page. Tesseract needs a
// rendered image; a page without one reads the PDF's own text instead.
func (s *Service) pageRecognizer(pdfPath string, hasImage bool) string {
	switch s.cfg.OCREngine {
	case config.OCRTesseract:
		if hasImage {
			return config.OCRTesseract
		}
		if pdfPath != "" {
			return config.OCRPDFText
		}
	case config.OCRPDFText:
		if pdfPath != "" {
			return config.OCRPDFText
		}
	}
	return config.OCRNone
}

func (s *Service) pipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Label = s.cfg.Label
	opts.Pixel = s.cfg.Pixel
	opts.Fusion = s.cfg.Fusion
	opts.Concurrency = s.cfg.Concurrency
	opts.Logger = s.logger
	return opts
}

// StructuredFields returns the fields the PDF declares, without any raster or
// text analysis
func (s *Service) StructuredFields(ctx context.Context, req StructuredFieldsRequest) (*StructuredFieldsResult, error) {
	if req.PDFPath == "" {
		return nil, errors.New("pdf_path is required")
	}
	path, err := s.paths.OpenFile(req.PDFPath)
	if err != nil {
		return nil, fmt.Errorf("security validation failed: %w", err)
	}
	src, err := annotation.OpenPDF(path)
	if err != nil {
		return nil, err
	}

	total := src.PageCount()
	pages := []int{req.Page}
	if req.Page == 0 {
		pages = pages[:0]
		for p := 1; p <= total; p++ {
			pages = append(pages, p)
		}
	} else if req.Page < 0 || req.Page > total {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", req.Page, total)
	}

	detector := annotation.NewDetector(src, s.logger)
	result := &StructuredFieldsResult{FilePath: path, TotalPages: total}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records := detector.Detect(ctx, page)
		if len(records) == 0 {
			continue
		}
		result.Pages = append(result.Pages, PageFields{Page: page, Fields: records})
		result.TotalFields += len(records)
	}
	return result, nil
}

// CountByKind tallies records by field kind
func CountByKind(records []fields.Record) map[fields.Kind]int {
	counts := make(map[fields.Kind]int)
	for _, r := range records {
		counts[r.Kind]++
	}
	return counts
}
