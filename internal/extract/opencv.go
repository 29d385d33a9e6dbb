//go:build gocv

package extract

import (
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/feature"
)

// OpenCVDetector wraps the OpenCV SIFT implementation. OpenCV objects are
// not goroutine safe, so Detect is serialized.
type OpenCVDetector struct {
	mu   sync.Mutex
	sift gocv.SIFT
}

// NewOpenCVDetector creates the SIFT detector. Call Close when done.
func NewOpenCVDetector() (*OpenCVDetector, error) {
	return &OpenCVDetector{sift: gocv.NewSIFT()}, nil
}

// Close releases the OpenCV detector.
func (d *OpenCVDetector) Close() error {
	return d.sift.Close()
}

// Detect implements Detector. OpenCV chooses its own pyramid settings;
// only the orientation handling follows opts.
func (d *OpenCVDetector) Detect(img image.Image, opts config.ExtractionOptions) ([]RawFeature, error) {
	gray, err := grayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	d.mu.Lock()
	kps, desc := d.sift.DetectAndCompute(gray, mask)
	d.mu.Unlock()
	defer desc.Close()

	if len(kps) == 0 {
		return nil, nil
	}
	if desc.Rows() != len(kps) {
		return nil, fmt.Errorf("opencv returned %d descriptors for %d keypoints", desc.Rows(), len(kps))
	}
	dim := desc.Cols()
	out := make([]RawFeature, len(kps))
	for i, kp := range kps {
		row := make([]float32, dim)
		for k := range row {
			row[k] = desc.GetFloatAt(i, k)
		}
		orientation := kp.Angle * math.Pi / 180
		if opts.Upright || kp.Angle < 0 {
			orientation = 0
		}
		out[i] = RawFeature{
			Keypoint: feature.Keypoint{
				X:           kp.X,
				Y:           kp.Y,
				Scale:       kp.Size / 2,
				Orientation: orientation,
			},
			Descriptor: row,
		}
	}
	return out, nil
}

// grayMat converts an image with origin (0,0) to a single channel Mat.
func grayMat(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, gray.Pix)
}
