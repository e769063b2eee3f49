// Package tesseract is the Tesseract-backed text recognizer.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

// Config holds Tesseract configuration
type Config struct {
	Languages []string
}

// Engine wraps a single gosseract client. The client is not safe for concurrent
// use, so every call holds the token.
type Engine struct {
	client *gosseract.Client
	token  chan struct{}
}

// New creates an engine with the configured languages
func New(cfg Config) (*Engine, error) {
	client := gosseract.NewClient()

	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	if err := client.SetLanguage(langs...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set tesseract languages %v: %w", langs, err)
	}

	e := &Engine{client: client, token: make(chan struct{}, 1)}
	e.token <- struct{}{}
	return e, nil
}

// Opener returns an ocr.Opener creating an engine on demand
func Opener(cfg Config) ocr.Opener {
	return func(ctx context.Context) (ocr.Recognizer, error) {
		return New(cfg)
	}
}

// Recognize runs word and line recognition on the page.
// A cancelled context returns immediately; the running call finishes in the
// background and releases the engine afterwards.
func (e *Engine) Recognize(ctx context.Context, page *raster.Page) (*ocr.Result, error) {
	if page.Empty() {
		return nil, raster.ErrEmptyImage
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, page.Image); err != nil {
		return nil, fmt.Errorf("failed to encode page %d: %w", page.Number, err)
	}

	select {
	case <-e.token:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	type outcome struct {
		res *ocr.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { e.token <- struct{}{} }()
		res, err := e.recognize(buf.Bytes())
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) recognize(data []byte) (*ocr.Result, error) {
	if err := e.client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	lineBoxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract line recognition failed: %w", err)
	}
	wordBoxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract word recognition failed: %w", err)
	}

	res := &ocr.Result{}
	for _, lb := range lineBoxes {
		res.Lines = append(res.Lines, ocr.Line{
			Text: strings.TrimSpace(lb.Word),
			Box:  boxRect(lb),
		})
	}
	for _, wb := range wordBoxes {
		text := strings.TrimSpace(wb.Word)
		if text == "" {
			continue
		}
		box := boxRect(wb)
		res.Words = append(res.Words, ocr.Word{
			Text:       text,
			Box:        box,
			Line:       lineOf(res.Lines, box),
			Confidence: wb.Confidence,
		})
	}
	return res, nil
}

// Close releases the tesseract client
func (e *Engine) Close() error {
	<-e.token
	return e.client.Close()
}

func boxRect(b gosseract.BoundingBox) geometry.Rect {
	return geometry.NewRect(float64(b.Box.Min.X), float64(b.Box.Min.Y), float64(b.Box.Max.X), float64(b.Box.Max.Y))
}

// lineOf returns the index of the line containing the center of box, or -1
func lineOf(lines []ocr.Line, box geometry.Rect) int {
	cx := (box.X0 + box.X1) / 2
	cy := (box.Y0 + box.Y1) / 2
	for i, l := range lines {
		if cx >= l.Box.X0 && cx <= l.Box.X1 && cy >= l.Box.Y0 && cy <= l.Box.Y1 {
			return i
		}
	}
	return -1
}
