package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/twoview/internal/feature"
)

// File is the on-disk JSON configuration. Every field is optional; omitted
// fields keep the value from DefaultExtractionOptions or
// DefaultMatchingOptions, so partial files are safe.
type File struct {
	Extraction ExtractionFile `json:"extraction"`
	Matching   MatchingFile   `json:"matching"`
}

// ExtractionFile mirrors ExtractionOptions with optional fields.
type ExtractionFile struct {
	NumThreads          *int     `json:"num_threads,omitempty"`
	UseGPU              *bool    `json:"use_gpu,omitempty"`
	GPUIndex            *string  `json:"gpu_index,omitempty"`
	MaxImageSize        *int     `json:"max_image_size,omitempty"`
	MaxNumFeatures      *int     `json:"max_num_features,omitempty"`
	FirstOctave         *int     `json:"first_octave,omitempty"`
	NumOctaves          *int     `json:"num_octaves,omitempty"`
	OctaveResolution    *int     `json:"octave_resolution,omitempty"`
	PeakThreshold       *float64 `json:"peak_threshold,omitempty"`
	EdgeThreshold       *float64 `json:"edge_threshold,omitempty"`
	EstimateAffineShape *bool    `json:"estimate_affine_shape,omitempty"`
	MaxNumOrientations  *int     `json:"max_num_orientations,omitempty"`
	Upright             *bool    `json:"upright,omitempty"`
	DarknessAdaptivity  *bool    `json:"darkness_adaptivity,omitempty"`
	DomainSizePooling   *bool    `json:"domain_size_pooling,omitempty"`
	DSPMinScale         *float64 `json:"dsp_min_scale,omitempty"`
	DSPMaxScale         *float64 `json:"dsp_max_scale,omitempty"`
	DSPNumScales        *int     `json:"dsp_num_scales,omitempty"`
	Normalization       *string  `json:"normalization,omitempty"` // "l1_root" or "l2"
}

// MatchingFile mirrors MatchingOptions with optional fields.
type MatchingFile struct {
	NumThreads       *int     `json:"num_threads,omitempty"`
	UseGPU           *bool    `json:"use_gpu,omitempty"`
	GPUIndex         *string  `json:"gpu_index,omitempty"`
	MaxRatio         *float64 `json:"max_ratio,omitempty"`
	MaxDistance      *float64 `json:"max_distance,omitempty"`
	CrossCheck       *bool    `json:"cross_check,omitempty"`
	MaxNumMatches    *int     `json:"max_num_matches,omitempty"`
	MaxError         *float64 `json:"max_error,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	MinNumTrials     *int     `json:"min_num_trials,omitempty"`
	MaxNumTrials     *int     `json:"max_num_trials,omitempty"`
	MinInlierRatio   *float64 `json:"min_inlier_ratio,omitempty"`
	MinNumInliers    *int     `json:"min_num_inliers,omitempty"`
	MultipleModels   *bool    `json:"multiple_models,omitempty"`
	GuidedMatching   *bool    `json:"guided_matching,omitempty"`
	Border           *int     `json:"border,omitempty"`
	MaxHInlierRatio  *float64 `json:"max_h_inlier_ratio,omitempty"`
	MinEFInlierRatio *float64 `json:"min_ef_inlier_ratio,omitempty"`
	RandomSeed       *uint64  `json:"random_seed,omitempty"`
}

// LoadFile loads a configuration file. The path must have a .json
// extension and the file must be under 1MB. The resulting options are
// validated before LoadFile returns.
func LoadFile(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	f := &File{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if _, err := f.ExtractionOptions(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := f.MatchingOptions(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return f, nil
}

// ExtractionOptions overlays the file on the defaults and validates.
func (f *File) ExtractionOptions() (ExtractionOptions, error) {
	o := DefaultExtractionOptions()
	e := f.Extraction
	setInt(&o.NumThreads, e.NumThreads)
	setBool(&o.UseGPU, e.UseGPU)
	setString(&o.GPUIndex, e.GPUIndex)
	setInt(&o.MaxImageSize, e.MaxImageSize)
	setInt(&o.MaxNumFeatures, e.MaxNumFeatures)
	setInt(&o.FirstOctave, e.FirstOctave)
	setInt(&o.NumOctaves, e.NumOctaves)
	setInt(&o.OctaveResolution, e.OctaveResolution)
	// The peak threshold default scales with the octave resolution.
	o.PeakThreshold = 0.02 / float64(max(o.OctaveResolution, 1))
	setFloat(&o.PeakThreshold, e.PeakThreshold)
	setFloat(&o.EdgeThreshold, e.EdgeThreshold)
	setBool(&o.EstimateAffineShape, e.EstimateAffineShape)
	setInt(&o.MaxNumOrientations, e.MaxNumOrientations)
	setBool(&o.Upright, e.Upright)
	setBool(&o.DarknessAdaptivity, e.DarknessAdaptivity)
	setBool(&o.DomainSizePooling, e.DomainSizePooling)
	setFloat(&o.DSPMinScale, e.DSPMinScale)
	setFloat(&o.DSPMaxScale, e.DSPMaxScale)
	setInt(&o.DSPNumScales, e.DSPNumScales)
	if e.Normalization != nil {
		n, err := feature.ParseNormalization(*e.Normalization)
		if err != nil {
			return ExtractionOptions{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		o.Normalization = n
	}
	if err := o.Validate(); err != nil {
		return ExtractionOptions{}, err
	}
	return o, nil
}

// MatchingOptions overlays the file on the defaults and validates.
func (f *File) MatchingOptions() (MatchingOptions, error) {
	o := DefaultMatchingOptions()
	m := f.Matching
	setInt(&o.NumThreads, m.NumThreads)
	setBool(&o.UseGPU, m.UseGPU)
	setString(&o.GPUIndex, m.GPUIndex)
	setFloat(&o.MaxRatio, m.MaxRatio)
	setFloat(&o.MaxDistance, m.MaxDistance)
	setBool(&o.CrossCheck, m.CrossCheck)
	setInt(&o.MaxNumMatches, m.MaxNumMatches)
	setFloat(&o.MaxError, m.MaxError)
	setFloat(&o.Confidence, m.Confidence)
	setInt(&o.MinNumTrials, m.MinNumTrials)
	setInt(&o.MaxNumTrials, m.MaxNumTrials)
	setFloat(&o.MinInlierRatio, m.MinInlierRatio)
	setInt(&o.MinNumInliers, m.MinNumInliers)
	setBool(&o.MultipleModels, m.MultipleModels)
	setBool(&o.GuidedMatching, m.GuidedMatching)
	setInt(&o.Border, m.Border)
	setFloat(&o.MaxHInlierRatio, m.MaxHInlierRatio)
	setFloat(&o.MinEFInlierRatio, m.MinEFInlierRatio)
	if m.RandomSeed != nil {
		o.RandomSeed = *m.RandomSeed
	}
	if err := o.Validate(); err != nil {
		return MatchingOptions{}, err
	}
	return o, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
