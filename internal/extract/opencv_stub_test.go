//go:build !gocv

package extract

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/twoview/internal/config"
)

func TestOpenCVDetectorUnavailable(t *testing.T) {
	t.Parallel()

	_, err := NewOpenCVDetector()
	assert.ErrorIs(t, err, ErrDetectorUnavailable)

	var d OpenCVDetector
	_, err = d.Detect(image.NewGray(image.Rect(0, 0, 1, 1)), config.DefaultExtractionOptions())
	assert.ErrorIs(t, err, ErrDetectorUnavailable)
}
