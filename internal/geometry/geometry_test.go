package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToDocumentSpace(t *testing.T) {
	tests := []struct {
		name       string
		raster     Rect
		pageHeight float64
		scale      float64
		expected   Rect
	}{
		{
			name:       "unit scale flips vertical axis",
			raster:     Rect{X0: 10, Y0: 20, X1: 110, Y1: 40},
			pageHeight: 792,
			scale:      1,
			expected:   Rect{X0: 10, Y0: 752, X1: 110, Y1: 772},
		},
		{
			name:       "scale divides both axes",
			raster:     Rect{X0: 150, Y0: 300, X1: 300, Y1: 330},
			pageHeight: 792,
			scale:      1.5,
			expected:   Rect{X0: 100, Y0: 572, X1: 200, Y1: 592},
		},
		{
			name:       "unordered corners are normalized",
			raster:     Rect{X0: 300, Y0: 330, X1: 150, Y1: 300},
			pageHeight: 792,
			scale:      1.5,
			expected:   Rect{X0: 100, Y0: 572, X1: 200, Y1: 592},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDocumentSpace(tt.raster, tt.pageHeight, tt.scale)
			assert.True(t, got.ApproxEqual(tt.expected, DefaultTolerance), "got %s want %s", got, tt.expected)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	rects := []Rect{
		{X0: 0, Y0: 0, X1: 612, Y1: 792},
		{X0: 66.6667, Y0: 737.3333, X1: 266.6667, Y1: 755.3333},
		{X0: 12.5, Y0: 400.25, X1: 13, Y1: 401},
	}
	scales := []float64{0.5, 1, 1.5, 2, 3.125}

	for _, r := range rects {
		for _, s := range scales {
			back := ToDocumentSpace(ToRasterSpace(r, 792, s), 792, s)
			assert.True(t, back.ApproxEqual(r, 1e-9), "scale %v: %s != %s", s, back, r)

			raster := ToRasterSpace(r, 792, s)
			again := ToRasterSpace(ToDocumentSpace(raster, 792, s), 792, s)
			assert.True(t, again.ApproxEqual(raster, 1e-9), "scale %v: %s != %s", s, again, raster)
		}
	}
}

func TestRectPredicates(t *testing.T) {
	a := NewRect(0, 0, 10, 10)
	b := NewRect(5, 5, 15, 15)
	touching := NewRect(10, 0, 20, 10)

	assert.True(t, a.Intersects(b))
	assert.True(t, b.Intersects(a))
	assert.False(t, a.Intersects(touching), "shared edge is not an overlap")
	assert.Equal(t, Rect{X0: 0, Y0: 0, X1: 15, Y1: 15}, a.Union(b))

	assert.False(t, a.Empty())
	assert.True(t, Rect{X0: 1, Y0: 1, X1: 1, Y1: 5}.Empty())
	assert.Equal(t, 10.0, a.Width())
	assert.Equal(t, 10.0, a.Height())
}
