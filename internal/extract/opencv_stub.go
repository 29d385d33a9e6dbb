//go:build !gocv

package extract

import (
	"image"

	"github.com/banshee-data/twoview/internal/config"
)

// OpenCVDetector is unavailable without the gocv build tag.
type OpenCVDetector struct{}

// NewOpenCVDetector reports ErrDetectorUnavailable; build with -tags gocv
// to link OpenCV.
func NewOpenCVDetector() (*OpenCVDetector, error) {
	return nil, ErrDetectorUnavailable
}

// Detect implements Detector.
func (*OpenCVDetector) Detect(image.Image, config.ExtractionOptions) ([]RawFeature, error) {
	return nil, ErrDetectorUnavailable
}

// Close is a no-op.
func (*OpenCVDetector) Close() error { return nil }
