// Package extract turns images into quantized descriptor sets. Detection
// is delegated to a Detector; this package owns downscaling, coordinate
// rescaling, feature selection and descriptor normalization.
package extract

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sort"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/feature"
)

var (
	ErrDetectorUnavailable = errors.New("feature detector not available in this build")
	ErrEmptyImage          = errors.New("image has no pixels")
	ErrDescriptorLength    = errors.New("detector returned descriptors of inconsistent length")
)

// RawFeature is one detection before normalization and quantization.
// Keypoint coordinates are relative to the image passed to Detect.
type RawFeature struct {
	Keypoint   feature.Keypoint
	Descriptor []float32
}

// Detector finds keypoints and computes float descriptors.
type Detector interface {
	Detect(img image.Image, opts config.ExtractionOptions) ([]RawFeature, error)
}

// Extractor applies one set of options with one detector. It holds no
// mutable state and may be shared between goroutines if the detector
// allows it.
type Extractor struct {
	opts config.ExtractionOptions
	det  Detector
}

// NewExtractor validates opts.
func NewExtractor(opts config.ExtractionOptions, det Detector) (*Extractor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if det == nil {
		return nil, ErrDetectorUnavailable
	}
	return &Extractor{opts: opts, det: det}, nil
}

// Extract detects features in img and returns them in original image
// coordinates, largest scale first when the feature cap applies.
func (e *Extractor) Extract(img image.Image) (*feature.DescriptorSet, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}

	work, scale := downscale(img, e.opts.MaxImageSize)
	raw, err := e.det.Detect(work, e.opts)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(raw) == 0 {
		return &feature.DescriptorSet{Dim: feature.DefaultDimension}, nil
	}
	dim := len(raw[0].Descriptor)
	for i, f := range raw {
		if len(f.Descriptor) != dim || dim == 0 {
			return nil, fmt.Errorf("%w: feature %d has %d values, want %d",
				ErrDescriptorLength, i, len(f.Descriptor), dim)
		}
	}

	if len(raw) > e.opts.MaxNumFeatures {
		sorted := append([]RawFeature(nil), raw...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Keypoint.Scale > sorted[j].Keypoint.Scale
		})
		raw = sorted[:e.opts.MaxNumFeatures]
	}

	kps := make([]feature.Keypoint, len(raw))
	desc := make([]uint8, len(raw)*dim)
	buf := make([]float32, dim)
	for i, f := range raw {
		kp := f.Keypoint
		kp.X = float64(b.Min.X) + kp.X/scale
		kp.Y = float64(b.Min.Y) + kp.Y/scale
		kp.Scale /= scale
		if e.opts.Upright {
			kp.Orientation = 0
		}
		kps[i] = kp

		copy(buf, f.Descriptor)
		e.opts.Normalization.Normalize(buf)
		feature.Quantize(desc[i*dim:(i+1)*dim], buf)
	}
	diagf("extracted %d features (scale %.3f, %dx%d)", len(kps), scale, b.Dx(), b.Dy())
	return feature.NewDescriptorSet(kps, desc, dim)
}

// downscale resizes img so its longer side is at most maxSize. The
// returned image has its origin at (0,0); scale maps original to working
// coordinates.
func downscale(img image.Image, maxSize int) (image.Image, float64) {
	b := img.Bounds()
	longer := max(b.Dx(), b.Dy())
	if longer <= maxSize {
		if b.Min == (image.Point{}) {
			return img, 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
		return dst, 1
	}
	scale := float64(maxSize) / float64(longer)
	w := max(1, int(float64(b.Dx())*scale+0.5))
	h := max(1, int(float64(b.Dy())*scale+0.5))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, scale
}

// ExtractAll runs every image through one extractor on a bounded pool.
// Results are indexed like imgs.
func ExtractAll(e *Extractor, imgs []image.Image) ([]*feature.DescriptorSet, error) {
	out := make([]*feature.DescriptorSet, len(imgs))
	var g errgroup.Group
	g.SetLimit(config.Threads(e.opts.NumThreads, runtime.NumCPU()))
	for i, img := range imgs {
		g.Go(func() error {
			set, err := e.Extract(img)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			out[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
