package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/db"
	"github.com/banshee-data/twoview/internal/extract"
	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/pipeline"
	"github.com/banshee-data/twoview/internal/testutil"
)

func writeScene(t *testing.T, dir string) []string {
	t.Helper()
	s := testutil.NewStereoScene(testutil.DefaultStereoOptions())
	noise := testutil.RandomSet(testutil.NewRand(3), 50, feature.DefaultDimension, 1000, 800)
	var paths []string
	for i, set := range []*feature.DescriptorSet{s.Set1, s.Set2, noise} {
		p := filepath.Join(dir, []string{"a.txt", "b.txt", "c.txt"}[i])
		require.NoError(t, feature.SaveTextFile(p, set))
		paths = append(paths, p)
	}
	return paths
}

func TestRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	o := options{
		Features: writeScene(t, dir),
		DB:       filepath.Join(dir, "out.db"),
		Report:   filepath.Join(dir, "report"),
		CPU:      true,
	}
	var out bytes.Buffer
	require.NoError(t, run(o, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "0 1 "), lines[0])
	assert.Contains(t, lines[0], "model=uncalibrated")
	assert.Contains(t, lines[1], "inliers=0")

	for _, name := range []string{"residuals.png", "report.html"} {
		info, err := os.Stat(filepath.Join(o.Report, name))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	database, err := db.Open(o.DB)
	require.NoError(t, err)
	defer database.Close()
	images, err := database.Images()
	require.NoError(t, err)
	require.Len(t, images, 3)

	g, err := database.ReadGeometry(images[0].ID, images[1].ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, g.NumInliers, 35)
	_, err = database.ReadGeometry(images[0].ID, images[2].ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRun_PairsAndCameras(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pairsPath := filepath.Join(dir, "pairs.txt")
	require.NoError(t, os.WriteFile(pairsPath, []byte("# calibrated pair\n1 0\n\n"), 0o644))
	camsPath := filepath.Join(dir, "cams.json")
	cam := `{"focal_x": 800, "focal_y": 800, "cx": 500, "cy": 400}`
	require.NoError(t, os.WriteFile(camsPath, []byte("["+cam+","+cam+",null]"), 0o644))

	o := options{Features: writeScene(t, dir), Pairs: pairsPath, Cameras: camsPath, CPU: true}
	var out bytes.Buffer
	require.NoError(t, run(o, &out))
	assert.True(t, strings.HasPrefix(out.String(), "1 0 "), out.String())
	assert.NotContains(t, out.String(), "inliers=0 ")
	assert.NotContains(t, out.String(), "model=uncalibrated")
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	features := writeScene(t, dir)

	badPairs := filepath.Join(dir, "bad_pairs.txt")
	require.NoError(t, os.WriteFile(badPairs, []byte("0 x\n"), 0o644))
	outOfRange := filepath.Join(dir, "range_pairs.txt")
	require.NoError(t, os.WriteFile(outOfRange, []byte("0 7\n"), 0o644))
	shortCams := filepath.Join(dir, "cams.json")
	require.NoError(t, os.WriteFile(shortCams, []byte("[null]"), 0o644))
	badConfig := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(badConfig, []byte(`{"matching": {"max_ratio": 2}}`), 0o644))

	tests := []struct {
		name string
		o    options
	}{
		{"missing feature file", options{Features: []string{filepath.Join(dir, "missing.txt")}}},
		{"bad pairs line", options{Features: features, Pairs: badPairs}},
		{"pair out of range", options{Features: features, Pairs: outOfRange, CPU: true}},
		{"camera count", options{Features: features, Cameras: shortCams}},
		{"invalid config", options{Features: features, Config: badConfig}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(tt.o, &out))
		})
	}
}

func TestAllPairs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []pipeline.Pair{{0, 1}, {0, 2}, {1, 2}}, allPairs(3))
	assert.Empty(t, allPairs(1))
}

// gridDetector reports the same 30 features for every image.
type gridDetector struct{}

func (gridDetector) Detect(img image.Image, _ config.ExtractionOptions) ([]extract.RawFeature, error) {
	rng := testutil.NewRand(21)
	b := img.Bounds()
	out := make([]extract.RawFeature, 30)
	for i := range out {
		desc := make([]float32, feature.DefaultDimension)
		for k := range desc {
			desc[k] = rng.Float32()
		}
		out[i] = extract.RawFeature{
			Keypoint: feature.Keypoint{
				X:     rng.Float64() * float64(b.Dx()),
				Y:     rng.Float64() * float64(b.Dy()),
				Scale: 1 + float64(i),
			},
			Descriptor: desc,
		}
	}
	return out, nil
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 400, 300))))
	require.NoError(t, f.Close())
}

func TestRun_Images(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	images := []string{filepath.Join(dir, "left.png"), filepath.Join(dir, "right.png")}
	for _, p := range images {
		writePNG(t, p)
	}
	o := options{
		Images:      images,
		Detector:    gridDetector{},
		FeaturesOut: filepath.Join(dir, "features"),
		DB:          filepath.Join(dir, "out.db"),
		CPU:         true,
	}
	var out bytes.Buffer
	require.NoError(t, run(o, &out))
	assert.Contains(t, out.String(), "0 1 matches=30 inliers=30")

	for _, name := range []string{"left.txt", "right.txt"} {
		s, err := feature.LoadTextFile(filepath.Join(o.FeaturesOut, name))
		require.NoError(t, err)
		assert.Equal(t, 30, s.Len())
	}

	database, err := db.Open(o.DB)
	require.NoError(t, err)
	defer database.Close()
	stored, err := database.Images()
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, images[0], stored[0].Name)
}

func TestRun_ImagesErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	img := filepath.Join(dir, "a.png")
	writePNG(t, img)
	notImage := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(notImage, []byte("not an image"), 0o644))

	var out bytes.Buffer
	err := run(options{Images: []string{img, img}, CPU: true}, &out)
	assert.ErrorIs(t, err, extract.ErrDetectorUnavailable)

	err = run(options{Images: []string{img, notImage}, Detector: gridDetector{}, CPU: true}, &out)
	assert.Error(t, err)

	err = run(options{Features: []string{notImage}, Images: []string{img}, Detector: gridDetector{}}, &out)
	assert.Error(t, err)
}
