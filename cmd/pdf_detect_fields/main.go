package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/a3tai/mcp-pdf-forms/internal/config"
	"github.com/a3tai/mcp-pdf-forms/internal/mcp"
	"github.com/a3tai/mcp-pdf-forms/internal/service"
)

// options holds the command line of a single detection run
type options struct {
	pdfPath    string
	imagePath  string
	page       int
	pageHeight float64
	scale      float64
	format     string
	dir        string
	configArgs []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		printUsage(stderr)
		return 2
	}

	cfg, err := config.Load(opts.configArgs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	logger := cfg.NewLogger(stderr)

	svc, err := service.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer svc.Close()

	req := service.DetectFieldsRequest{PDFPath: opts.pdfPath, Scale: opts.scale}
	if opts.page > 0 || opts.imagePath != "" {
		page := opts.page
		if page == 0 {
			page = 1
		}
		req.Pages = []service.PageSpec{{Page: page, ImagePath: opts.imagePath, PageHeight: opts.pageHeight}}
	}

	result, err := svc.DetectFields(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "Error detecting fields: %v\n", err)
		return 1
	}

	if err := outputResults(stdout, opts.format, result); err != nil {
		fmt.Fprintf(stderr, "Error outputting results: %v\n", err)
		return 1
	}
	return 0
}

// parseArgs reads the tool's flags and translates the shared ones into
// arguments for config.Load
func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("pdf_detect_fields", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.imagePath, "image", "", "Rendered image of the page")
	fs.IntVar(&opts.page, "page", 0, "1-based page number (all pages when omitted)")
	fs.Float64Var(&opts.pageHeight, "page-height", 0, "Page height in PDF units")
	fs.Float64Var(&opts.scale, "scale", 0, "Image pixels per PDF unit")
	fs.StringVar(&opts.format, "format", "text", "Output format: text, json")
	fs.StringVar(&opts.dir, "dir", "", "Directory inputs must live in (defaults to the input's directory)")
	engine := fs.String("ocr-engine", "", "Text recognizer: tesseract, pdftext, none")
	logLevel := fs.String("log-level", "warn", "Log level: debug, info, warn, error")
	fs.Usage = func() { printUsage(stderr) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("expected at most one PDF file, got %d", fs.NArg())
	}
	if fs.NArg() == 1 {
		opts.pdfPath = fs.Arg(0)
	}
	if opts.pdfPath == "" && opts.imagePath == "" {
		return nil, errors.New("a PDF file or --image is required")
	}
	if opts.format != "text" && opts.format != "json" {
		return nil, fmt.Errorf("unsupported output format: %s", opts.format)
	}

	if opts.dir == "" {
		input := opts.pdfPath
		if input == "" {
			input = opts.imagePath
		}
		abs, err := filepath.Abs(input)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		opts.dir = filepath.Dir(abs)
	}
	// inputs given relative to the working directory are made absolute so
	// they resolve the same way against --dir
	for _, p := range []*string{&opts.pdfPath, &opts.imagePath} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		*p = abs
	}

	opts.configArgs = []string{"--dir", opts.dir, "--log-level", *logLevel}
	if *engine != "" {
		opts.configArgs = append(opts.configArgs, "--ocr-engine", *engine)
	}
	return opts, nil
}

func outputResults(w io.Writer, format string, result *service.DetectFieldsResult) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	if result.TotalFields == 0 {
		fmt.Fprintln(w, "No form fields detected")
	}
	_, err := io.WriteString(w, mcp.FormatDetectFieldsResult(result))
	return err
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "PDF Detect Fields - find fillable form fields in a PDF or a scanned page")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  pdf_detect_fields [OPTIONS] <pdf_file>")
	fmt.Fprintln(w, "  pdf_detect_fields [OPTIONS] --image <page.png> [<pdf_file>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "OPTIONS:")
	fmt.Fprintln(w, "  --image        Rendered image of the page")
	fmt.Fprintln(w, "  --page         1-based page number (all pages when omitted)")
	fmt.Fprintln(w, "  --page-height  Page height in PDF units")
	fmt.Fprintln(w, "  --scale        Image pixels per PDF unit")
	fmt.Fprintln(w, "  --format       Output format: text (default), json")
	fmt.Fprintln(w, "  --dir          Directory inputs must live in")
	fmt.Fprintln(w, "  --ocr-engine   Text recognizer: tesseract, pdftext, none")
	fmt.Fprintln(w, "  --log-level    Log level (default warn)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "EXAMPLES:")
	fmt.Fprintln(w, "  pdf_detect_fields form.pdf")
	fmt.Fprintln(w, "  pdf_detect_fields --format json --page 2 forms/w2.pdf")
	fmt.Fprintln(w, "  pdf_detect_fields --image scan.png --ocr-engine tesseract")
}
