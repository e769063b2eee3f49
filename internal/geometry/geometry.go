// Package geometry converts rectangles between raster pixel space (origin top-left,
// y grows downward) and document space (origin bottom-left, y grows upward).
package geometry

import (
	"fmt"
	"math"
)

// DefaultTolerance is the absolute tolerance used by ApproxEqual
const DefaultTolerance = 1e-6

// Rect is an axis-aligned rectangle stored as two corners.
// In document space (X0,Y0) is the lower-left corner and (X1,Y1) the upper-right one;
// in raster space (X0,Y0) is the top-left corner and (X1,Y1) the bottom-right one.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// NewRect builds a normalized rectangle from two arbitrary corners
func NewRect(x0, y0, x1, y1 float64) Rect {
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}.Normalize()
}

// Normalize returns the rectangle with X0<=X1 and Y0<=Y1
func (r Rect) Normalize() Rect {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

// Width returns the horizontal extent
func (r Rect) Width() float64 {
	return r.X1 - r.X0
}

// Height returns the vertical extent
func (r Rect) Height() float64 {
	return r.Y1 - r.Y0
}

// Empty reports whether the rectangle has no positive area
func (r Rect) Empty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Intersects reports whether the two rectangles share a region of positive area.
// Rectangles that only touch along an edge do not intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.X0 < o.X1 && o.X0 < r.X1 && r.Y0 < o.Y1 && o.Y0 < r.Y1
}

// Union returns the smallest rectangle containing both rectangles
func (r Rect) Union(o Rect) Rect {
	return Rect{
		X0: math.Min(r.X0, o.X0),
		Y0: math.Min(r.Y0, o.Y0),
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
	}
}

// ApproxEqual compares all four coordinates within tol
func (r Rect) ApproxEqual(o Rect, tol float64) bool {
	return math.Abs(r.X0-o.X0) <= tol &&
		math.Abs(r.Y0-o.Y0) <= tol &&
		math.Abs(r.X1-o.X1) <= tol &&
		math.Abs(r.Y1-o.Y1) <= tol
}

// String returns a compact representation used in logs
func (r Rect) String() string {
	return fmt.Sprintf("[%.2f %.2f %.2f %.2f]", r.X0, r.Y0, r.X1, r.Y1)
}

// ToDocumentSpace converts a raster rectangle into document space.
// pageHeight is the page's true height in document units and scale the factor
// used to produce the raster (raster pixels per document unit).
func ToDocumentSpace(raster Rect, pageHeight, scale float64) Rect {
	raster = raster.Normalize()
	return Rect{
		X0: raster.X0 / scale,
		Y0: pageHeight - raster.Y1/scale,
		X1: raster.X1 / scale,
		Y1: pageHeight - raster.Y0/scale,
	}
}

// ToRasterSpace is the inverse of ToDocumentSpace
func ToRasterSpace(doc Rect, pageHeight, scale float64) Rect {
	doc = doc.Normalize()
	return Rect{
		X0: doc.X0 * scale,
		Y0: (pageHeight - doc.Y1) * scale,
		X1: doc.X1 * scale,
		Y1: (pageHeight - doc.Y0) * scale,
	}
}
