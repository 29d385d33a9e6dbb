package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/twoview/internal/feature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsAreValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultExtractionOptions().Validate())
	require.NoError(t, DefaultMatchingOptions().Validate())

	m := DefaultMatchingOptions()
	assert.Equal(t, 0.8, m.MaxRatio)
	assert.Equal(t, 0.7, m.MaxDistance)
	assert.True(t, m.CrossCheck)
	assert.Equal(t, 32768, m.MaxNumMatches)
	assert.Equal(t, 4.0, m.MaxError)
	assert.Equal(t, 0.999, m.Confidence)
	assert.Equal(t, 30, m.MinNumTrials)
	assert.Equal(t, 10000, m.MaxNumTrials)
	assert.Equal(t, 0.25, m.MinInlierRatio)
	assert.Equal(t, 15, m.MinNumInliers)

	e := DefaultExtractionOptions()
	assert.InDelta(t, 0.02/3, e.PeakThreshold, 1e-12)
	assert.Equal(t, feature.NormalizationL1Root, e.Normalization)
}

func TestMatchingOptionsValidate(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*MatchingOptions){
		"zero threads":        func(o *MatchingOptions) { o.NumThreads = 0 },
		"ratio zero":          func(o *MatchingOptions) { o.MaxRatio = 0 },
		"ratio above one":     func(o *MatchingOptions) { o.MaxRatio = 1.01 },
		"negative distance":   func(o *MatchingOptions) { o.MaxDistance = -1 },
		"no matches":          func(o *MatchingOptions) { o.MaxNumMatches = 0 },
		"negative error":      func(o *MatchingOptions) { o.MaxError = -4 },
		"confidence":          func(o *MatchingOptions) { o.Confidence = 1.5 },
		"trial bounds":        func(o *MatchingOptions) { o.MinNumTrials, o.MaxNumTrials = 100, 10 },
		"inlier ratio":        func(o *MatchingOptions) { o.MinInlierRatio = -0.1 },
		"negative inliers":    func(o *MatchingOptions) { o.MinNumInliers = -1 },
		"negative border":     func(o *MatchingOptions) { o.Border = -3 },
		"bad gpu index":       func(o *MatchingOptions) { o.GPUIndex = "0,a" },
		"h ratio":             func(o *MatchingOptions) { o.MaxHInlierRatio = 2 },
		"negative min trials": func(o *MatchingOptions) { o.MinNumTrials = -1 },
	}
	for name, mutate := range cases {
		o := DefaultMatchingOptions()
		mutate(&o)
		err := o.Validate()
		assert.ErrorIs(t, err, ErrInvalidOptions, name)
	}

	o := DefaultMatchingOptions()
	o.MaxRatio = 1
	assert.NoError(t, o.Validate(), "max_ratio of exactly 1 is allowed")
}

func TestExtractionOptionsValidate(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*ExtractionOptions){
		"image size":    func(o *ExtractionOptions) { o.MaxImageSize = 0 },
		"features":      func(o *ExtractionOptions) { o.MaxNumFeatures = -1 },
		"octaves":       func(o *ExtractionOptions) { o.NumOctaves = 0 },
		"resolution":    func(o *ExtractionOptions) { o.OctaveResolution = 0 },
		"peak":          func(o *ExtractionOptions) { o.PeakThreshold = 0 },
		"edge":          func(o *ExtractionOptions) { o.EdgeThreshold = -1 },
		"orientations":  func(o *ExtractionOptions) { o.MaxNumOrientations = 0 },
		"dsp min":       func(o *ExtractionOptions) { o.DomainSizePooling, o.DSPMinScale = true, 0 },
		"dsp range":     func(o *ExtractionOptions) { o.DomainSizePooling, o.DSPMaxScale = true, 0.1 },
		"dsp scales":    func(o *ExtractionOptions) { o.DomainSizePooling, o.DSPNumScales = true, 0 },
		"normalization": func(o *ExtractionOptions) { o.Normalization = feature.Normalization(7) },
		"gpu":           func(o *ExtractionOptions) { o.GPUIndex = "-1,0" },
	}
	for name, mutate := range cases {
		o := DefaultExtractionOptions()
		mutate(&o)
		assert.ErrorIs(t, o.Validate(), ErrInvalidOptions, name)
	}
}

func TestParseGPUIndices(t *testing.T) {
	t.Parallel()
	got, err := ParseGPUIndices("0, 1,3")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, got)

	got, err = ParseGPUIndices("")
	require.NoError(t, err)
	assert.Equal(t, []int{-1}, got)

	for _, bad := range []string{"0,0", "-2", "x", "-1,2"} {
		_, err := ParseGPUIndices(bad)
		assert.Error(t, err, bad)
	}
}

func TestThreads(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 4, Threads(4, 16))
	assert.Equal(t, 16, Threads(-1, 16))
	assert.Equal(t, 1, Threads(-1, 0))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "twoview.json")
	doc := `{
  "extraction": {"octave_resolution": 4, "normalization": "l2", "upright": true},
  "matching": {"max_ratio": 0.7, "cross_check": false, "guided_matching": true, "random_seed": 42}
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)

	e, err := f.ExtractionOptions()
	require.NoError(t, err)
	assert.Equal(t, 4, e.OctaveResolution)
	assert.InDelta(t, 0.005, e.PeakThreshold, 1e-12)
	assert.Equal(t, feature.NormalizationL2, e.Normalization)
	assert.True(t, e.Upright)
	assert.Equal(t, 8192, e.MaxNumFeatures, "omitted fields keep defaults")

	m, err := f.MatchingOptions()
	require.NoError(t, err)
	assert.Equal(t, 0.7, m.MaxRatio)
	assert.False(t, m.CrossCheck)
	assert.True(t, m.GuidedMatching)
	assert.Equal(t, uint64(42), m.RandomSeed)
	assert.Equal(t, 15, m.MinNumInliers)
}

func TestLoadFileRejects(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "config.yaml"))
	assert.ErrorContains(t, err, ".json extension")

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"matching": {"max_ratio": 3}}`), 0o644))
	_, err = LoadFile(bad)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte(`{`), 0o644))
	_, err = LoadFile(garbage)
	assert.ErrorContains(t, err, "parse")

	big := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat(" ", 1024*1024+1)), 0o644))
	_, err = LoadFile(big)
	assert.ErrorContains(t, err, "too large")
}
