// Package raster holds the rendered page image handed to the detectors.
package raster

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultScale is the render scale used when none is configured
const DefaultScale = 1.5

// ErrEmptyImage is returned when a raster has no pixels
var ErrEmptyImage = errors.New("raster image is empty")

// Page is one rendered page together with the information needed to map
// raster pixels back onto the document
type Page struct {
	Number int         // 1-based page number
	Image  *image.RGBA // rendered page, RGBA
	Height float64     // true page height in document units
	Scale  float64     // raster pixels per document unit
}

// NewPage validates the inputs and builds a Page
func NewPage(number int, img *image.RGBA, height, scale float64) (*Page, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	if height <= 0 {
		return nil, fmt.Errorf("page height must be positive, got %v", height)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("scale must be positive, got %v", scale)
	}
	return &Page{Number: number, Image: img, Height: height, Scale: scale}, nil
}

// Empty reports whether the page has no usable raster
func (p *Page) Empty() bool {
	return p == nil || p.Image == nil || p.Image.Bounds().Empty()
}

// Width returns the raster width in pixels
func (p *Page) Width() int {
	return p.Image.Bounds().Dx()
}

// Extensions lists the file extensions Load can decode
var Extensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// IsImageFile reports whether name has an extension Load can decode
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load decodes an image file into an RGBA raster.
// PNG, JPEG, GIF, BMP, TIFF and WebP are supported.
func Load(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode raster %s: %w", path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrEmptyImage, path, format)
	}

	return ToRGBA(img), nil
}

// ToRGBA converts any image into an RGBA raster whose bounds start at the origin
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// Blank returns a white raster covering a page of the given size in document
// units at scale. It stands in for a rendering when only the document's text
// and annotations are analyzed.
func Blank(number int, width, height, scale float64) (*Page, error) {
	w, h := int(math.Ceil(width*scale)), int(math.Ceil(height*scale))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %vx%v at scale %v", ErrEmptyImage, width, height, scale)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(img, img.Bounds(), image.White, image.Point{}, xdraw.Src)
	return NewPage(number, img, height, scale)
}
