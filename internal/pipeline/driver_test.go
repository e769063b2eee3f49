package pipeline

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-forms/internal/annotation"
	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/ocr"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

const (
	pageHeight = 792
	scale      = 1.5
)

type emptySource struct{}

func (emptySource) StructuredFields(ctx context.Context, page int) ([]annotation.StructuredField, error) {
	return nil, nil
}

func (emptySource) FieldRegistry(ctx context.Context) (map[string][]annotation.StructuredField, error) {
	return map[string][]annotation.StructuredField{}, nil
}

type staticSource struct {
	fields map[int][]annotation.StructuredField
}

func (s staticSource) StructuredFields(ctx context.Context, page int) ([]annotation.StructuredField, error) {
	return s.fields[page], nil
}

func (s staticSource) FieldRegistry(ctx context.Context) (map[string][]annotation.StructuredField, error) {
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// formRaster is a white page with one empty 10px checkbox outline at (100,100)
func formRaster(t *testing.T, number int) *raster.Page {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 400))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	black := color.RGBA{A: 255}
	for i := 0; i <= 10; i++ {
		img.SetRGBA(100+i, 100, black)
		img.SetRGBA(100+i, 110, black)
		img.SetRGBA(100, 100+i, black)
		img.SetRGBA(110, 100+i, black)
	}

	page, err := raster.NewPage(number, img, pageHeight, scale)
	require.NoError(t, err)
	return page
}

func nameLabelOpener(opens *atomic.Int32) ocr.Opener {
	return func(ctx context.Context) (ocr.Recognizer, error) {
		if opens != nil {
			opens.Add(1)
		}
		return ocr.RecognizerFunc(func(ctx context.Context, p *raster.Page) (*ocr.Result, error) {
			return &ocr.Result{Words: []ocr.Word{
				{Text: "NAME:", Box: geometry.NewRect(50, 40, 90, 55), Line: 0},
			}}, nil
		}), nil
	}
}

func newDriver(source annotation.Source, opener ocr.Opener) *Driver {
	opts := DefaultOptions()
	opts.Annotations = source
	opts.Recognizer = opener
	opts.Logger = quietLogger()
	return New(opts)
}

func TestDetectPageEndToEnd(t *testing.T) {
	d := newDriver(emptySource{}, nameLabelOpener(nil))
	defer d.Close()

	res, err := d.DetectPage(context.Background(), PageInput{Page: 1, Raster: formRaster(t, 1)})
	require.NoError(t, err)
	require.Len(t, res.Fields, 2)

	text, box := res.Fields[0], res.Fields[1]

	assert.Equal(t, fields.KindText, text.Kind)
	assert.Equal(t, fields.MethodOCRLabel, text.Method)
	assert.Equal(t, "NAME:", text.Label)
	assert.InDelta(t, 100/scale, text.Rect.X0, 1e-9)

	assert.Equal(t, fields.KindCheckbox, box.Kind)
	assert.Equal(t, fields.MethodPixelCheckbox, box.Method)
	assert.False(t, text.Rect.Intersects(box.Rect))

	for _, f := range res.Fields {
		assert.Equal(t, 1, f.Page)
	}
	require.Len(t, res.Detectors, 3)
	assert.Equal(t, DetectorAnnotation, res.Detectors[0].Detector)
	assert.Equal(t, 0, res.Detectors[0].Count)
	assert.Equal(t, 1, res.Detectors[1].Count)
	assert.Equal(t, 1, res.Detectors[2].Count)
	assert.Equal(t, 2, res.Candidates)
}

func TestDetectPageStructuredFieldWinsRegion(t *testing.T) {
	// a declared field covering the label's region
	src := staticSource{fields: map[int][]annotation.StructuredField{
		1: {{Name: "full_name", Type: "Tx", Rect: geometry.NewRect(60, 735, 300, 757)}},
	}}
	d := newDriver(src, nameLabelOpener(nil))
	defer d.Close()

	res, err := d.DetectPage(context.Background(), PageInput{Page: 1, Raster: formRaster(t, 1)})
	require.NoError(t, err)
	require.Len(t, res.Fields, 2)
	assert.Equal(t, fields.MethodStructuredAnnotation, res.Fields[0].Method)
	assert.Equal(t, "full_name", res.Fields[0].Name)
	assert.Equal(t, fields.MethodPixelCheckbox, res.Fields[1].Method)
}

func TestDetectPageMissingRaster(t *testing.T) {
	d := newDriver(nil, nil)

	_, err := d.DetectPage(context.Background(), PageInput{Page: 3})
	assert.ErrorIs(t, err, ErrMissingRaster)

	_, err = d.DetectPage(context.Background(), PageInput{Page: 3, Raster: &raster.Page{Number: 3}})
	assert.ErrorIs(t, err, ErrMissingRaster)
}

func TestDetectPageContainsPanics(t *testing.T) {
	panicking := func(ctx context.Context) (ocr.Recognizer, error) {
		return ocr.RecognizerFunc(func(ctx context.Context, p *raster.Page) (*ocr.Result, error) {
			panic("engine state corrupted")
		}), nil
	}
	d := newDriver(nil, panicking)
	defer d.Close()

	res, err := d.DetectPage(context.Background(), PageInput{Page: 1, Raster: formRaster(t, 1)})
	require.NoError(t, err)
	require.Len(t, res.Fields, 1)
	assert.Equal(t, fields.KindCheckbox, res.Fields[0].Kind)

	assert.Equal(t, DetectorLabel, res.Detectors[1].Detector)
	assert.Contains(t, res.Detectors[1].Error, "engine state corrupted")
}

func TestDetectPagesOrderedAndSessionShared(t *testing.T) {
	var opens atomic.Int32
	d := newDriver(emptySource{}, nameLabelOpener(&opens))
	defer d.Close()

	inputs := []PageInput{
		{Page: 3, Raster: formRaster(t, 3)},
		{Page: 1, Raster: formRaster(t, 1)},
		{Page: 2, Raster: formRaster(t, 2)},
	}

	results, err := d.DetectPages(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, i+1, res.Page)
		assert.Len(t, res.Fields, 2)
	}
	assert.Equal(t, int32(1), opens.Load())
}

func TestDetectPagesReportsMissingRaster(t *testing.T) {
	d := newDriver(nil, nil)

	results, err := d.DetectPages(context.Background(), []PageInput{
		{Page: 1, Raster: formRaster(t, 1)},
		{Page: 2},
	})
	assert.ErrorIs(t, err, ErrMissingRaster)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Page)
}

func TestDetectPagesCancelled(t *testing.T) {
	d := newDriver(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := d.DetectPages(ctx, []PageInput{{Page: 1, Raster: formRaster(t, 1)}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

type countingCloser struct {
	ocr.Recognizer
	closes atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closes.Add(1)
	return nil
}

func TestDetectPageUsesPageRecognizer(t *testing.T) {
	// the driver's own recognizer reads nothing
	empty := func(ctx context.Context) (ocr.Recognizer, error) {
		return ocr.RecognizerFunc(func(ctx context.Context, p *raster.Page) (*ocr.Result, error) {
			return &ocr.Result{}, nil
		}), nil
	}
	d := newDriver(emptySource{}, empty)

	named, err := nameLabelOpener(nil)(context.Background())
	require.NoError(t, err)
	borrowed := &countingCloser{Recognizer: named}

	results, err := d.DetectPages(context.Background(), []PageInput{
		{Page: 1, Raster: formRaster(t, 1), Recognizer: borrowed},
		{Page: 2, Raster: formRaster(t, 2)},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Detectors[1].Count)
	assert.Equal(t, 0, results[1].Detectors[1].Count)

	require.NoError(t, d.Close())
	assert.Equal(t, int32(0), borrowed.closes.Load())
}
