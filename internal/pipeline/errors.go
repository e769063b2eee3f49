package pipeline

import (
	"errors"
	"fmt"
)

// ErrMissingRaster is returned when a page has no raster to analyze
var ErrMissingRaster = errors.New("page raster is missing or empty")

// DetectorError records a detector failure that was contained at the detector
// boundary. It is logged and reported, never returned from DetectPage.
type DetectorError struct {
	Detector string
	Page     int
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("%s detector failed on page %d: %v", e.Detector, e.Page, e.Err)
}

func (e *DetectorError) Unwrap() error {
	return e.Err
}
