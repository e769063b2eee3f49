// Package pipeline drives detection for one or more pages: the three detectors
// run concurrently on a page and their output is fused once all have finished.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/a3tai/mcp-pdf-forms/internal/annotation"
	"github.com/a3tai/mcp-pdf-forms/internal/detect/label"
	"github.com/a3tai/mcp-pdf-forms/internal/detect/pixel"
	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/fusion"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

// Detector names used in logs and reports
const (
	DetectorAnnotation = "annotation"
	DetectorLabel      = "label"
	DetectorPixel      = "pixel"
)

// Options configures a Driver
type Options struct {
	Annotations annotation.Source // nil disables structured detection
	Recognizer  ocr.Opener        // nil disables text detection
	Label       label.Config
	Pixel       pixel.Config
	Fusion      fusion.Config
	Concurrency int // pages processed in parallel
	Logger      *slog.Logger
}

// DefaultOptions returns options with every detector tuned to its defaults and
// no collaborators attached
func DefaultOptions() Options {
	return Options{
		Label:       label.DefaultConfig(),
		Pixel:       pixel.DefaultConfig(),
		Fusion:      fusion.DefaultConfig(),
		Concurrency: 2,
	}
}

// PageInput is one page to analyze
type PageInput struct {
	Page   int
	Raster *raster.Page

	// Recognizer replaces the driver's recognizer for this page. It is
	// borrowed: the driver never closes it.
	Recognizer ocr.Recognizer
}

// DetectorReport summarizes one detector's run on a page
type DetectorReport struct {
	Detector string        `json:"detector"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// PageResult is the fused output for a page
type PageResult struct {
	Page       int              `json:"page"`
	Recognizer string           `json:"recognizer,omitempty"`
	Fields     []fields.Record  `json:"fields"`
	Candidates int              `json:"candidates"`
	Detectors  []DetectorReport `json:"detectors"`
	Duration   time.Duration    `json:"duration"`
}

// Driver owns the detectors and the text recognizer session
type Driver struct {
	annotations *annotation.Detector
	labels      *label.Detector
	pixels      *pixel.Detector
	session     *ocr.Session
	fusion      fusion.Config
	concurrency int
	logger      *slog.Logger
}

// New creates a driver
func New(opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Driver{
		annotations: annotation.NewDetector(opts.Annotations, logger),
		pixels:      pixel.New(opts.Pixel, logger),
		fusion:      opts.Fusion,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
	if d.concurrency < 1 {
		d.concurrency = 1
	}

	var rec ocr.Recognizer
	if opts.Recognizer != nil {
		d.session = ocr.NewSession(opts.Recognizer, logger)
		rec = d.session
	}
	d.labels = label.New(rec, opts.Label, logger)
	return d
}

// Close tears down the text recognizer session
func (d *Driver) Close() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

// DetectPage runs every detector on the page and fuses their output. Detector
// failures degrade to empty contributions; only a missing raster is an error.
func (d *Driver) DetectPage(ctx context.Context, in PageInput) (*PageResult, error) {
	page := in.Page
	if in.Raster.Empty() {
		return nil, fmt.Errorf("page %d: %w", page, ErrMissingRaster)
	}
	if page == 0 {
		page = in.Raster.Number
	}

	start := time.Now()
	var outputs [3][]fields.Record
	var reports [3]DetectorReport

	var wg conc.WaitGroup
	wg.Go(func() {
		outputs[0], reports[0] = d.run(page, DetectorAnnotation, func() []fields.Record {
			return d.annotations.Detect(ctx, page)
		})
	})
	wg.Go(func() {
		outputs[1], reports[1] = d.run(page, DetectorLabel, func() []fields.Record {
			if in.Recognizer != nil {
				return d.labels.DetectWith(ctx, in.Recognizer, in.Raster)
			}
			return d.labels.Detect(ctx, in.Raster)
		})
	})
	wg.Go(func() {
		outputs[2], reports[2] = d.run(page, DetectorPixel, func() []fields.Record {
			return d.pixels.Detect(ctx, in.Raster)
		})
	})
	wg.Wait()

	var candidates []fields.Record
	for _, out := range outputs {
		for _, r := range out {
			r.Page = page
			candidates = append(candidates, r)
		}
	}

	fused := fusion.Fuse(candidates, d.fusion)
	result := &PageResult{
		Page:       page,
		Fields:     fused,
		Candidates: len(candidates),
		Detectors:  reports[:],
		Duration:   time.Since(start),
	}

	d.logger.Info("page fused",
		"page", page,
		"candidates", len(candidates),
		"count", len(fused),
		"duration", result.Duration)
	return result, nil
}

// run executes a detector, turning a panic into an empty contribution
func (d *Driver) run(page int, name string, detect func() []fields.Record) ([]fields.Record, DetectorReport) {
	start := time.Now()
	var records []fields.Record

	var pc panics.Catcher
	pc.Try(func() { records = detect() })

	report := DetectorReport{Detector: name, Duration: time.Since(start)}
	if recovered := pc.Recovered(); recovered != nil {
		err := &DetectorError{Detector: name, Page: page, Err: recovered.AsError()}
		d.logger.Error("detector panicked", "page", page, "detector", name, "error", err)
		report.Error = err.Error()
		return nil, report
	}

	report.Count = len(records)
	d.logger.Debug("detector finished", "page", page, "detector", name, "count", report.Count, "duration", report.Duration)
	return records, report
}

// DetectPages runs DetectPage on every input with bounded parallelism. Results
// are ordered by page number. Once ctx is done no further pages are started; the
// pages already finished are returned together with the error.
func (d *Driver) DetectPages(ctx context.Context, inputs []PageInput) ([]*PageResult, error) {
	results := make([]*PageResult, len(inputs))

	p := pool.New().WithContext(ctx).WithMaxGoroutines(d.concurrency)
	for i, in := range inputs {
		if ctx.Err() != nil {
			break
		}
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := d.DetectPage(ctx, in)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := p.Wait()
	if err == nil {
		err = ctx.Err()
	}

	done := make([]*PageResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			done = append(done, r)
		}
	}
	sort.SliceStable(done, func(a, b int) bool { return done[a].Page < done[b].Page })
	return done, err
}
