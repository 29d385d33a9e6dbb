// Package config holds the option structs consumed by extraction, matching
// and verification, their defaults and the pre-flight validation run before
// any work begins.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/twoview/internal/feature"
)

// ErrInvalidOptions wraps every validation failure.
var ErrInvalidOptions = errors.New("invalid options")

// ExtractionOptions configures feature extraction. Defaults follow the
// reference SIFT settings.
type ExtractionOptions struct {
	NumThreads int // -1 uses all CPUs
	UseGPU     bool
	GPUIndex   string // comma separated, "-1" selects the default device

	MaxImageSize   int // longer side in pixels; larger images are downscaled
	MaxNumFeatures int // keeps the largest-scale features

	FirstOctave      int // -1 upsamples the image by one level
	NumOctaves       int
	OctaveResolution int // levels per octave
	PeakThreshold    float64
	EdgeThreshold    float64

	EstimateAffineShape bool
	MaxNumOrientations  int
	Upright             bool // fixes orientation to 0
	DarknessAdaptivity  bool

	// Domain-size pooling averages descriptors over a range of scales
	// around the detected scale.
	DomainSizePooling bool
	DSPMinScale       float64
	DSPMaxScale       float64
	DSPNumScales      int

	Normalization feature.Normalization
}

// DefaultExtractionOptions returns production defaults.
func DefaultExtractionOptions() ExtractionOptions {
	return ExtractionOptions{
		NumThreads:         -1,
		UseGPU:             true,
		GPUIndex:           "-1",
		MaxImageSize:       3200,
		MaxNumFeatures:     8192,
		FirstOctave:        -1,
		NumOctaves:         4,
		OctaveResolution:   3,
		PeakThreshold:      0.02 / 3,
		EdgeThreshold:      10,
		MaxNumOrientations: 2,
		DSPMinScale:        1.0 / 6.0,
		DSPMaxScale:        3,
		DSPNumScales:       10,
		Normalization:      feature.NormalizationL1Root,
	}
}

// Validate is the pre-flight check for extraction options.
func (o ExtractionOptions) Validate() error {
	switch {
	case o.NumThreads == 0 || o.NumThreads < -1:
		return invalid("num_threads must be -1 or positive, got %d", o.NumThreads)
	case o.MaxImageSize <= 0:
		return invalid("max_image_size must be positive, got %d", o.MaxImageSize)
	case o.MaxNumFeatures <= 0:
		return invalid("max_num_features must be positive, got %d", o.MaxNumFeatures)
	case o.NumOctaves <= 0:
		return invalid("num_octaves must be positive, got %d", o.NumOctaves)
	case o.OctaveResolution <= 0:
		return invalid("octave_resolution must be positive, got %d", o.OctaveResolution)
	case o.PeakThreshold <= 0:
		return invalid("peak_threshold must be positive, got %g", o.PeakThreshold)
	case o.EdgeThreshold <= 0:
		return invalid("edge_threshold must be positive, got %g", o.EdgeThreshold)
	case o.MaxNumOrientations <= 0:
		return invalid("max_num_orientations must be positive, got %d", o.MaxNumOrientations)
	}
	if o.DomainSizePooling {
		switch {
		case o.DSPMinScale <= 0:
			return invalid("dsp_min_scale must be positive, got %g", o.DSPMinScale)
		case o.DSPMaxScale < o.DSPMinScale:
			return invalid("dsp_max_scale %g below dsp_min_scale %g", o.DSPMaxScale, o.DSPMinScale)
		case o.DSPNumScales <= 0:
			return invalid("dsp_num_scales must be positive, got %d", o.DSPNumScales)
		}
	}
	if o.Normalization != feature.NormalizationL1Root && o.Normalization != feature.NormalizationL2 {
		return invalid("unknown normalization %v", o.Normalization)
	}
	if _, err := ParseGPUIndices(o.GPUIndex); err != nil {
		return err
	}
	return nil
}

// MatchingOptions configures descriptor matching and geometric
// verification for one image pair.
type MatchingOptions struct {
	NumThreads int // -1 uses all CPUs
	UseGPU     bool
	GPUIndex   string // comma separated, one device context per entry

	MaxRatio      float64 // best/second-best distance ratio, in (0,1]
	MaxDistance   float64 // angular descriptor distance in radians
	CrossCheck    bool
	MaxNumMatches int

	MaxError       float64 // pixels
	Confidence     float64
	MinNumTrials   int // overrules MinInlierRatio
	MaxNumTrials   int
	MinInlierRatio float64 // a priori inlier ratio seeding the trial budget
	MinNumInliers  int

	MultipleModels bool
	GuidedMatching bool

	// Border splits both sets into [0,Border) and [Border,n); matches must
	// cross it. Zero disables the restriction.
	Border int

	// Model selection thresholds for two-view verification.
	MaxHInlierRatio  float64 // planar if H inliers exceed this share of F/E inliers
	MinEFInlierRatio float64 // calibrated if E keeps this share of F inliers

	RandomSeed uint64
}

// DefaultMatchingOptions returns production defaults.
func DefaultMatchingOptions() MatchingOptions {
	return MatchingOptions{
		NumThreads:       -1,
		UseGPU:           true,
		GPUIndex:         "-1",
		MaxRatio:         0.8,
		MaxDistance:      0.7,
		CrossCheck:       true,
		MaxNumMatches:    32768,
		MaxError:         4,
		Confidence:       0.999,
		MinNumTrials:     30,
		MaxNumTrials:     10000,
		MinInlierRatio:   0.25,
		MinNumInliers:    15,
		MaxHInlierRatio:  0.8,
		MinEFInlierRatio: 0.95,
	}
}

// Validate is the pre-flight check for matching options.
func (o MatchingOptions) Validate() error {
	switch {
	case o.NumThreads == 0 || o.NumThreads < -1:
		return invalid("num_threads must be -1 or positive, got %d", o.NumThreads)
	case !(o.MaxRatio > 0 && o.MaxRatio <= 1):
		return invalid("max_ratio must be in (0,1], got %g", o.MaxRatio)
	case !(o.MaxDistance > 0):
		return invalid("max_distance must be positive, got %g", o.MaxDistance)
	case o.MaxNumMatches <= 0:
		return invalid("max_num_matches must be positive, got %d", o.MaxNumMatches)
	case !(o.MaxError > 0):
		return invalid("max_error must be positive, got %g", o.MaxError)
	case !(o.Confidence >= 0 && o.Confidence <= 1):
		return invalid("confidence must be in [0,1], got %g", o.Confidence)
	case o.MinNumTrials < 0:
		return invalid("min_num_trials must be non-negative, got %d", o.MinNumTrials)
	case o.MaxNumTrials <= 0:
		return invalid("max_num_trials must be positive, got %d", o.MaxNumTrials)
	case o.MaxNumTrials < o.MinNumTrials:
		return invalid("max_num_trials %d below min_num_trials %d", o.MaxNumTrials, o.MinNumTrials)
	case !(o.MinInlierRatio >= 0 && o.MinInlierRatio <= 1):
		return invalid("min_inlier_ratio must be in [0,1], got %g", o.MinInlierRatio)
	case o.MinNumInliers < 0:
		return invalid("min_num_inliers must be non-negative, got %d", o.MinNumInliers)
	case o.Border < 0:
		return invalid("border must be non-negative, got %d", o.Border)
	case !(o.MaxHInlierRatio >= 0 && o.MaxHInlierRatio <= 1):
		return invalid("max_h_inlier_ratio must be in [0,1], got %g", o.MaxHInlierRatio)
	case !(o.MinEFInlierRatio >= 0 && o.MinEFInlierRatio <= 1):
		return invalid("min_ef_inlier_ratio must be in [0,1], got %g", o.MinEFInlierRatio)
	}
	if _, err := ParseGPUIndices(o.GPUIndex); err != nil {
		return err
	}
	return nil
}

// ParseGPUIndices splits a comma separated device list such as "0,1,3".
// An empty string is treated as "-1". -1 may only appear on its own.
func ParseGPUIndices(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{-1}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	seen := make(map[int]bool, len(parts))
	for _, p := range parts {
		idx, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, invalid("gpu_index %q: %v", s, err)
		}
		if idx < -1 {
			return nil, invalid("gpu_index %q: index %d out of range", s, idx)
		}
		if seen[idx] {
			return nil, invalid("gpu_index %q: duplicate index %d", s, idx)
		}
		seen[idx] = true
		out = append(out, idx)
	}
	if len(out) > 1 && seen[-1] {
		return nil, invalid("gpu_index %q: -1 cannot be combined with explicit indices", s)
	}
	return out, nil
}

// Threads resolves -1 to the given hardware concurrency.
func Threads(numThreads, hardware int) int {
	if numThreads > 0 {
		return numThreads
	}
	if hardware < 1 {
		return 1
	}
	return hardware
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
}
