package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/pipeline"
	"github.com/banshee-data/twoview/internal/testutil"
)

func stereoResults(t *testing.T) ([]pipeline.Result, []*feature.DescriptorSet) {
	t.Helper()
	s := testutil.NewStereoScene(testutil.DefaultStereoOptions())
	noise := testutil.RandomSet(testutil.NewRand(5), 60, feature.DefaultDimension, 1000, 800)
	sets := []*feature.DescriptorSet{s.Set1, s.Set2, noise}

	opts := config.DefaultMatchingOptions()
	opts.UseGPU = false
	results, err := pipeline.Run(opts, pipeline.Input{Sets: sets}, []pipeline.Pair{{0, 1}, {0, 2}})
	require.NoError(t, err)
	require.NotNil(t, results[0].Geometry)
	return results, sets
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	results, sets := stereoResults(t)
	summaries, residuals, err := Summarize(results, sets)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	g := results[0].Geometry
	s := summaries[0]
	assert.Equal(t, "0-1", s.Label)
	assert.Equal(t, g.Kind, s.Kind)
	assert.Equal(t, g.NumInliers, s.NumInliers)
	assert.Len(t, s.Inliers, g.NumInliers)
	assert.Len(t, s.Outliers, len(g.Matches)-g.NumInliers)

	assert.Equal(t, "0-2", summaries[1].Label)
	assert.Zero(t, summaries[1].NumInliers)
	assert.Empty(t, summaries[1].Inliers)

	require.Len(t, residuals, len(g.Matches))
	within := 0
	for _, r := range residuals {
		if r <= config.DefaultMatchingOptions().MaxError {
			within++
		}
	}
	assert.GreaterOrEqual(t, within, g.NumInliers)
}

func TestSummarize_BadMatchIndex(t *testing.T) {
	t.Parallel()

	results, sets := stereoResults(t)
	short := []*feature.DescriptorSet{sets[0].Head(3), sets[1], sets[2]}
	_, _, err := Summarize(results[:1], short)
	assert.Error(t, err)
}

func TestWriteResidualHistogram(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "residuals.png")
	residuals := []float64{0.1, 0.5, 1.2, 2.5, 3.9, 7, 30, math.Inf(1), math.NaN()}
	require.NoError(t, WriteResidualHistogram(path, residuals, 4))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriteResidualHistogram_NoData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "residuals.png")
	assert.ErrorIs(t, WriteResidualHistogram(path, nil, 4), ErrNoData)
	assert.ErrorIs(t, WriteResidualHistogram(path, []float64{math.NaN()}, 4), ErrNoData)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteHTML(t *testing.T) {
	t.Parallel()

	results, sets := stereoResults(t)
	summaries, _, err := Summarize(results, sets)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, summaries))
	html := buf.String()
	assert.Contains(t, html, "Matches per pair")
	assert.Contains(t, html, "Pair 0-1")
	assert.NotContains(t, html, "Pair 0-2")
}

func TestWriteHTML_NoData(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	assert.ErrorIs(t, WriteHTML(&buf, nil), ErrNoData)
}
