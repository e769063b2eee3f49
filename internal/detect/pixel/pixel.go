// Package pixel finds form fields directly in the page raster: long horizontal
// rules become text fields and small empty squares become checkboxes.
package pixel

import (
	"context"
	"image"
	"log/slog"
	"sort"
	"time"

	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

// Config holds every threshold of the pixel detector
type Config struct {
	// Horizontal lines
	LineDark         uint8   // a pixel is dark when all channels are below this
	LineMinRun       int     // minimum run length in pixels, exclusive
	LineMaxGap       int     // light pixels tolerated inside a run
	LineMinDarkRatio float64 // dark pixels over run length, exclusive
	LineMinWidth     float64 // document units, exclusive
	LineMaxWidth     float64 // document units, exclusive
	FieldHeight      float64 // document units

	// Checkboxes
	EnableCheckboxes  bool
	CheckboxSizes     []int
	CheckboxDark      uint8   // all channels below
	CheckboxLight     uint8   // all channels above
	IsolationLight    uint8   // red channel above
	IsolationBuffer   int     // pixels outside the candidate's corners
	MinDarkEdges      int     // of the 8 edge samples
	MinLightInterior  int     // of the 3 interior samples
	IsolationRatio    float64 // exclusive
	PerimeterDark     uint8   // red channel below
	PerimeterRatio    float64 // exclusive
	AcceptScore       float64 // exclusive
	HighScore         float64 // inclusive
	DedupCell         int     // pixels per dedup grid cell
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		LineDark:         120,
		LineMinRun:       40,
		LineMaxGap:       5,
		LineMinDarkRatio: 0.7,
		LineMinWidth:     30,
		LineMaxWidth:     400,
		FieldHeight:      18,

		EnableCheckboxes: true,
		CheckboxSizes:    []int{10, 12, 14, 16, 18},
		CheckboxDark:     100,
		CheckboxLight:    220,
		IsolationLight:   200,
		IsolationBuffer:  3,
		MinDarkEdges:     6,
		MinLightInterior: 2,
		IsolationRatio:   0.7,
		PerimeterDark:    100,
		PerimeterRatio:   0.7,
		AcceptScore:      0.8,
		HighScore:        0.9,
		DedupCell:        5,
	}
}

// Detector scans rasters for line and checkbox patterns
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a detector
func New(cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{cfg: cfg, logger: logger.With("detector", "pixel")}
}

// Detect returns line fields followed by checkbox fields. A cancelled context
// stops the scan and returns nothing.
func (d *Detector) Detect(ctx context.Context, page *raster.Page) []fields.Record {
	if page.Empty() {
		return nil
	}

	start := time.Now()
	lines := DetectLines(ctx, page, d.cfg)

	var boxes []fields.Record
	if d.cfg.EnableCheckboxes {
		boxes = DetectCheckboxes(ctx, page, d.cfg)
	}
	if ctx.Err() != nil {
		d.logger.Warn("pixel scan cancelled", "page", page.Number, "error", ctx.Err())
		return nil
	}

	d.logger.Debug("pixel fields detected",
		"page", page.Number,
		"lines", len(lines),
		"checkboxes", len(boxes),
		"duration", time.Since(start))
	return append(lines, boxes...)
}

// plane gives bounds-checked channel access to an RGBA raster
type plane struct {
	img  *image.RGBA
	w, h int
}

func newPlane(img *image.RGBA) plane {
	b := img.Bounds()
	return plane{img: img, w: b.Dx(), h: b.Dy()}
}

func (p plane) in(x, y int) bool {
	return x >= 0 && y >= 0 && x < p.w && y < p.h
}

// rgb returns the channels at (x, y) relative to the raster's origin
func (p plane) rgb(x, y int) (r, g, b uint8) {
	o := p.img.Bounds().Min
	i := p.img.PixOffset(o.X+x, o.Y+y)
	return p.img.Pix[i], p.img.Pix[i+1], p.img.Pix[i+2]
}

func (p plane) darker(x, y int, limit uint8) bool {
	if !p.in(x, y) {
		return false
	}
	r, g, b := p.rgb(x, y)
	return r < limit && g < limit && b < limit
}

func (p plane) lighter(x, y int, limit uint8) bool {
	if !p.in(x, y) {
		return false
	}
	r, g, b := p.rgb(x, y)
	return r > limit && g > limit && b > limit
}

// DetectLines finds horizontal dark runs row by row
func DetectLines(ctx context.Context, page *raster.Page, cfg Config) []fields.Record {
	p := newPlane(page.Image)
	var records []fields.Record

	for y := 0; y < p.h; y++ {
		if ctx.Err() != nil {
			return nil
		}

		start, lastDark, dark, gap := -1, 0, 0, 0
		for x := 0; x <= p.w; x++ {
			if x < p.w && p.darker(x, y, cfg.LineDark) {
				if start < 0 {
					start, dark = x, 0
				}
				dark++
				lastDark = x
				gap = 0
				continue
			}
			if start < 0 {
				continue
			}
			gap++
			if gap <= cfg.LineMaxGap && x < p.w {
				continue
			}

			if r, ok := lineRecord(page, cfg, start, lastDark, dark, y); ok {
				records = append(records, r)
			}
			start, gap = -1, 0
		}
	}
	return records
}

func lineRecord(page *raster.Page, cfg Config, start, lastDark, dark, y int) (fields.Record, bool) {
	length := lastDark - start + 1
	if length <= cfg.LineMinRun || float64(dark)/float64(length) <= cfg.LineMinDarkRatio {
		return fields.Record{}, false
	}
	width := float64(length) / page.Scale
	if width <= cfg.LineMinWidth || width >= cfg.LineMaxWidth {
		return fields.Record{}, false
	}

	// The field sits on the rule, extending downward in the raster.
	px := geometry.Rect{
		X0: float64(start),
		Y0: float64(y),
		X1: float64(lastDark + 1),
		Y1: float64(y) + cfg.FieldHeight*page.Scale,
	}
	r := fields.New(fields.KindText, geometry.ToDocumentSpace(px, page.Height, page.Scale), fields.ConfidenceMedium, fields.MethodPixelHorizontalLine)
	r.Page = page.Number
	return r, true
}

type cell struct{ x, y int }

// DetectCheckboxes scores square candidates of every configured size and keeps
// the best non-overlapping ones
func DetectCheckboxes(ctx context.Context, page *raster.Page, cfg Config) []fields.Record {
	p := newPlane(page.Image)
	dedup := cfg.DedupCell
	if dedup <= 0 {
		dedup = 1
	}
	seen := make(map[cell]bool)

	var candidates []fields.Record
	for _, size := range cfg.CheckboxSizes {
		step := size / 2
		if size <= 0 || step <= 0 {
			continue
		}
		for y := size; y < p.h-size; y += step {
			if ctx.Err() != nil {
				return nil
			}
			for x := size; x < p.w-size; x += step {
				key := cell{x / dedup, y / dedup}
				if seen[key] {
					continue
				}

				score := checkboxScore(p, cfg, x, y, size)
				if score <= cfg.AcceptScore {
					continue
				}
				seen[key] = true

				conf := fields.ConfidenceMedium
				if score >= cfg.HighScore {
					conf = fields.ConfidenceHigh
				}
				px := geometry.Rect{X0: float64(x), Y0: float64(y), X1: float64(x + size), Y1: float64(y + size)}
				r := fields.New(fields.KindCheckbox, geometry.ToDocumentSpace(px, page.Height, page.Scale), conf, fields.MethodPixelCheckbox)
				r.Page = page.Number
				r.Score = score
				candidates = append(candidates, r)
			}
		}
	}
	return bestNonOverlapping(candidates)
}

const checkboxChecks = 5

// checkboxScore runs the five equally weighted checks on the candidate with
// top-left corner (x, y)
func checkboxScore(p plane, cfg Config, x, y, size int) float64 {
	passed := 0

	edges := [][2]int{
		{x, y}, {x + size, y}, {x, y + size}, {x + size, y + size},
		{x + size/2, y}, {x + size/2, y + size},
		{x, y + size/2}, {x + size, y + size/2},
	}
	dark := 0
	for _, e := range edges {
		if p.darker(e[0], e[1], cfg.CheckboxDark) {
			dark++
		}
	}
	if dark >= cfg.MinDarkEdges {
		passed++
	}

	interior := [][2]int{
		{x + size/2, y + size/2},
		{x + size/3, y + size/3},
		{x + 2*size/3, y + 2*size/3},
	}
	light := 0
	for _, c := range interior {
		if p.lighter(c[0], c[1], cfg.CheckboxLight) {
			light++
		}
	}
	if light >= cfg.MinLightInterior {
		passed++
	}

	// Candidates are generated at canonical square sizes only.
	passed++

	if isolation(p, cfg, x, y, size) > cfg.IsolationRatio {
		passed++
	}
	if perimeter(p, cfg, x, y, size) > cfg.PerimeterRatio {
		passed++
	}

	return float64(passed) / checkboxChecks
}

// isolation is the share of the four outer corner samples that are light.
// Samples off the raster count as not light.
func isolation(p plane, cfg Config, x, y, size int) float64 {
	b := cfg.IsolationBuffer
	outer := [][2]int{
		{x - b, y - b}, {x + size + b, y - b},
		{x - b, y + size + b}, {x + size + b, y + size + b},
	}
	light := 0
	for _, o := range outer {
		if !p.in(o[0], o[1]) {
			continue
		}
		if r, _, _ := p.rgb(o[0], o[1]); r > cfg.IsolationLight {
			light++
		}
	}
	return float64(light) / float64(len(outer))
}

// perimeter is the share of dark samples along the candidate's four sides
func perimeter(p plane, cfg Config, x, y, size int) float64 {
	step := size / 8
	if step < 1 {
		step = 1
	}

	dark, total := 0, 0
	for i := 0; i < size; i += step {
		samples := [][2]int{{x + i, y}, {x + i, y + size}, {x, y + i}, {x + size, y + i}}
		for _, s := range samples {
			if !p.in(s[0], s[1]) {
				continue
			}
			total++
			if r, _, _ := p.rgb(s[0], s[1]); r < cfg.PerimeterDark {
				dark++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(dark) / float64(total)
}

// bestNonOverlapping keeps candidates by descending score, dropping any that
// overlaps one already kept
func bestNonOverlapping(candidates []fields.Record) []fields.Record {
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	var kept []fields.Record
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if c.Rect.Intersects(k.Rect) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}
