// Package ocr defines the contract of the text recognizer consumed by the label
// detector, and the session that owns a recognizer's lifecycle.
package ocr

import (
	"context"
	"strings"

	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

// Word is one recognized word. Box is in raster pixel space.
type Word struct {
	Text       string        `json:"text"`
	Box        geometry.Rect `json:"box"`
	Line       int           `json:"line"` // index of the line the word belongs to, -1 when unknown
	Confidence float64       `json:"confidence,omitempty"`
}

// Line is one recognized text line. Box is in raster pixel space.
type Line struct {
	Text string        `json:"text"`
	Box  geometry.Rect `json:"box"`
}

// Result is everything a recognizer found on one page
type Result struct {
	Words []Word `json:"words"`
	Lines []Line `json:"lines"`
}

// Recognizer turns a page into words and lines with bounding boxes
type Recognizer interface {
	Recognize(ctx context.Context, page *raster.Page) (*Result, error)
}

// RecognizerFunc adapts a function to the Recognizer interface
type RecognizerFunc func(ctx context.Context, page *raster.Page) (*Result, error)

// Recognize calls f
func (f RecognizerFunc) Recognize(ctx context.Context, page *raster.Page) (*Result, error) {
	return f(ctx, page)
}

// LinesFromWords builds lines by grouping words on their Line index, in order of
// first appearance. Words with an unknown line are skipped.
func LinesFromWords(words []Word) []Line {
	var lines []Line
	index := make(map[int]int)
	for _, w := range words {
		if w.Line < 0 {
			continue
		}
		i, ok := index[w.Line]
		if !ok {
			index[w.Line] = len(lines)
			lines = append(lines, Line{Text: w.Text, Box: w.Box})
			continue
		}
		lines[i].Text = strings.TrimSpace(lines[i].Text + " " + w.Text)
		lines[i].Box = lines[i].Box.Union(w.Box)
	}
	return lines
}
