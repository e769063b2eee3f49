package pixel

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-pdf-forms/internal/fields"
	"github.com/a3tai/mcp-pdf-forms/internal/geometry"
	"github.com/a3tai/mcp-pdf-forms/internal/raster"
)

const tol = 1e-9

var black = color.RGBA{A: 255}

func whiteImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func hline(img *image.RGBA, x0, x1, y int) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y, black)
	}
}

func vline(img *image.RGBA, x, y0, y1 int) {
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x, y, black)
	}
}

// square draws a 1px outline whose borders sit at x, x+size, y and y+size
func square(img *image.RGBA, x, y, size int) {
	hline(img, x, x+size, y)
	hline(img, x, x+size, y+size)
	vline(img, x, y, y+size)
	vline(img, x+size, y, y+size)
}

func newPage(t *testing.T, img *image.RGBA, height, scale float64) *raster.Page {
	t.Helper()
	page, err := raster.NewPage(1, img, height, scale)
	require.NoError(t, err)
	return page
}

func TestDetectLines(t *testing.T) {
	img := whiteImage(400, 400)
	hline(img, 50, 249, 200)

	records := DetectLines(context.Background(), newPage(t, img, 400, 1), DefaultConfig())
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, fields.KindText, r.Kind)
	assert.Equal(t, fields.MethodPixelHorizontalLine, r.Method)
	assert.Equal(t, fields.ConfidenceMedium, r.Confidence)
	assert.True(t, r.Rect.ApproxEqual(geometry.Rect{X0: 50, Y0: 182, X1: 250, Y1: 200}, tol), r.Rect.String())
}

func TestDetectLinesToleratesSmallGaps(t *testing.T) {
	img := whiteImage(400, 100)
	hline(img, 10, 99, 50)
	hline(img, 104, 199, 50) // gap of 4 light pixels

	records := DetectLines(context.Background(), newPage(t, img, 100, 1), DefaultConfig())
	require.Len(t, records, 1)
	assert.InDelta(t, 10, records[0].Rect.X0, tol)
	assert.InDelta(t, 200, records[0].Rect.X1, tol)
}

func TestDetectLinesSplitsOnLargeGaps(t *testing.T) {
	img := whiteImage(400, 100)
	hline(img, 10, 99, 50)
	hline(img, 110, 199, 50) // gap of 10

	records := DetectLines(context.Background(), newPage(t, img, 100, 1), DefaultConfig())
	assert.Len(t, records, 2)
}

func TestDetectLinesRejects(t *testing.T) {
	tests := []struct {
		name   string
		x0, x1 int
		scale  float64
	}{
		{name: "run too short", x0: 10, x1: 45, scale: 1},
		{name: "too narrow in document units", x0: 10, x1: 60, scale: 2},
		{name: "too wide in document units", x0: 0, x1: 449, scale: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := whiteImage(500, 100)
			hline(img, tt.x0, tt.x1, 50)
			assert.Empty(t, DetectLines(context.Background(), newPage(t, img, 100, tt.scale), DefaultConfig()))
		})
	}
}

func TestDetectCheckbox(t *testing.T) {
	img := whiteImage(300, 300)
	square(img, 100, 100, 10)

	records := DetectCheckboxes(context.Background(), newPage(t, img, 792, 1.5), DefaultConfig())
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, fields.KindCheckbox, r.Kind)
	assert.Equal(t, fields.MethodPixelCheckbox, r.Method)
	assert.Equal(t, fields.ConfidenceHigh, r.Confidence)
	assert.InDelta(t, 1.0, r.Score, tol)

	want := geometry.ToDocumentSpace(geometry.NewRect(100, 100, 110, 110), 792, 1.5)
	assert.True(t, r.Rect.ApproxEqual(want, tol), r.Rect.String())
	assert.InDelta(t, 10/1.5, r.Rect.Width(), tol)
}

func TestDetectCheckboxRejectsFilledSquare(t *testing.T) {
	img := whiteImage(300, 300)
	for y := 100; y <= 110; y++ {
		hline(img, 100, 110, y)
	}

	assert.Empty(t, DetectCheckboxes(context.Background(), newPage(t, img, 792, 1.5), DefaultConfig()))
}

func TestCheckboxScoreChecks(t *testing.T) {
	img := whiteImage(300, 300)
	square(img, 100, 100, 10)
	p := newPlane(img)
	cfg := DefaultConfig()

	assert.InDelta(t, 1.0, checkboxScore(p, cfg, 100, 100, 10), tol)
	assert.InDelta(t, 1.0, isolation(p, cfg, 100, 100, 10), tol)
	assert.InDelta(t, 1.0, perimeter(p, cfg, 100, 100, 10), tol)

	// blank area: light interior, isolated, size always passes
	assert.InDelta(t, 0.6, checkboxScore(p, cfg, 200, 200, 10), tol)
}

func TestDetectCheckboxesDisabled(t *testing.T) {
	img := whiteImage(300, 300)
	square(img, 100, 100, 10)

	cfg := DefaultConfig()
	cfg.EnableCheckboxes = false
	assert.Empty(t, New(cfg, nil).Detect(context.Background(), newPage(t, img, 792, 1.5)))
}

func TestDetectCancelled(t *testing.T) {
	img := whiteImage(300, 300)
	hline(img, 10, 200, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, New(DefaultConfig(), nil).Detect(ctx, newPage(t, img, 300, 1)))
}

func TestBestNonOverlapping(t *testing.T) {
	a := fields.New(fields.KindCheckbox, geometry.NewRect(0, 0, 10, 10), fields.ConfidenceMedium, fields.MethodPixelCheckbox)
	a.Score = 0.85
	b := fields.New(fields.KindCheckbox, geometry.NewRect(5, 5, 15, 15), fields.ConfidenceHigh, fields.MethodPixelCheckbox)
	b.Score = 1.0
	c := fields.New(fields.KindCheckbox, geometry.NewRect(50, 50, 60, 60), fields.ConfidenceMedium, fields.MethodPixelCheckbox)
	c.Score = 0.85

	kept := bestNonOverlapping([]fields.Record{a, b, c})
	require.Len(t, kept, 2)
	assert.Equal(t, b.ID, kept[0].ID)
	assert.Equal(t, c.ID, kept[1].ID)
}
