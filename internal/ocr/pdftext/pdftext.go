// Package pdftext recognizes text on digitally-authored PDFs by reading glyph
// positions from the content stream instead of running OCR on the raster.
package pdftext

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"

	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

const (
	defaultFontSize = 10.0
	lineTolerance   = 0.5 // fraction of the font size
	wordGap         = 0.3 // fraction of the font size
)

// Document reads glyphs from one PDF file
type Document struct {
	mu     sync.Mutex
	file   *os.File
	reader *pdf.Reader
	closed bool
}

// Open opens a PDF for glyph extraction
func Open(path string) (*Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return &Document{file: f, reader: r}, nil
}

// Opener returns an ocr.Opener for the PDF at path
func Opener(path string) ocr.Opener {
	return func(ctx context.Context) (ocr.Recognizer, error) {
		return Open(path)
	}
}

// NumPage returns the page count
func (d *Document) NumPage() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reader.NumPage()
}

// Recognize returns the words and lines of the page, with boxes projected into
// the page's raster space
func (d *Document) Recognize(ctx context.Context, page *raster.Page) (*ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	glyphs, err := d.glyphs(page.Number)
	if err != nil {
		return nil, err
	}
	return Group(glyphs, page.Height, page.Scale), nil
}

func (d *Document) glyphs(pageNum int) (texts []pdf.Text, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ocr.ErrSessionClosed
	}
	if pageNum < 1 || pageNum > d.reader.NumPage() {
		return nil, fmt.Errorf("invalid page number %d (document has %d pages)", pageNum, d.reader.NumPage())
	}

	p := d.reader.Page(pageNum)
	if p.V.IsNull() {
		return nil, fmt.Errorf("page %d not found", pageNum)
	}

	// The content parser panics on malformed streams.
	defer func() {
		if r := recover(); r != nil {
			texts = nil
			err = fmt.Errorf("failed to read content of page %d: %v", pageNum, r)
		}
	}()
	return p.Content().Text, nil
}

// Close releases the underlying file
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.file.Close()
}

type glyphLine struct {
	y      float64
	size   float64
	glyphs []pdf.Text
}

// Group assembles glyphs into words and lines. Glyph positions are in document
// space; the returned boxes are in raster space for the given page height and scale.
func Group(glyphs []pdf.Text, pageHeight, scale float64) *ocr.Result {
	sorted := make([]pdf.Text, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines []*glyphLine
	for _, g := range sorted {
		size := fontSize(g)
		if n := len(lines); n > 0 && math.Abs(lines[n-1].y-g.Y) <= lineTolerance*math.Max(size, lines[n-1].size) {
			lines[n-1].glyphs = append(lines[n-1].glyphs, g)
			continue
		}
		lines = append(lines, &glyphLine{y: g.Y, size: size, glyphs: []pdf.Text{g}})
	}

	res := &ocr.Result{}
	for _, gl := range lines {
		sort.SliceStable(gl.glyphs, func(i, j int) bool { return gl.glyphs[i].X < gl.glyphs[j].X })

		lineIdx := len(res.Lines)
		words := splitWords(gl.glyphs)
		if len(words) == 0 {
			continue
		}

		var texts []string
		var lineBox geometry.Rect
		for i, w := range words {
			box := geometry.ToRasterSpace(w.rect, pageHeight, scale)
			res.Words = append(res.Words, ocr.Word{Text: w.text, Box: box, Line: lineIdx, Confidence: 100})
			texts = append(texts, w.text)
			if i == 0 {
				lineBox = box
			} else {
				lineBox = lineBox.Union(box)
			}
		}
		res.Lines = append(res.Lines, ocr.Line{Text: strings.Join(texts, " "), Box: lineBox})
	}
	return res
}

type word struct {
	text string
	rect geometry.Rect // document space
}

func splitWords(glyphs []pdf.Text) []word {
	var words []word
	var cur strings.Builder
	var rect geometry.Rect
	var prev *pdf.Text

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, word{text: cur.String(), rect: rect})
		}
		cur.Reset()
		prev = nil
	}

	for i := range glyphs {
		g := &glyphs[i]
		if strings.TrimSpace(g.S) == "" {
			flush()
			continue
		}
		if prev != nil && g.X-(prev.X+prev.W) > wordGap*fontSize(*g) {
			flush()
		}

		r := geometry.NewRect(g.X, g.Y, g.X+g.W, g.Y+fontSize(*g))
		if cur.Len() == 0 {
			rect = r
		} else {
			rect = rect.Union(r)
		}
		cur.WriteString(g.S)
		prev = g
	}
	flush()
	return words
}

func fontSize(g pdf.Text) float64 {
	if g.FontSize <= 0 {
		return defaultFontSize
	}
	return g.FontSize
}
