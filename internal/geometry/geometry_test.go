package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/testutil"
)

func scenePoints(t *testing.T, kps1, kps2 []feature.Keypoint, matches feature.MatchList) ([]Point, []Point) {
	t.Helper()
	p1, p2, err := PointsFromMatches(kps1, kps2, matches)
	require.NoError(t, err)
	return p1, p2
}

func sceneCameras(s *testutil.StereoScene) *CameraPair {
	c := Camera{FocalX: s.Options.Focal, FocalY: s.Options.Focal, CX: s.Options.CX, CY: s.Options.CY}
	return &CameraPair{Camera1: c, Camera2: c}
}

func TestTrialsNeeded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		confidence float64
		sample     int
		ratio      float64
		want       int
	}{
		{"all inliers", 0.99, 8, 1, 0},
		{"no inliers", 0.99, 8, 0, math.MaxInt},
		{"certain", 1, 4, 0.5, math.MaxInt},
		{"zero confidence", 0, 4, 0.5, 0},
		{"half inliers homography", 0.99, 4, 0.5, 72},
		{"single point", 0.99, 1, 0.5, 7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, TrialsNeeded(tc.confidence, tc.sample, tc.ratio))
		})
	}
}

func TestTrialsNeeded_MonotoneInConfidence(t *testing.T) {
	t.Parallel()

	for _, ratio := range []float64{0.1, 0.25, 0.5, 0.9} {
		prev := 0
		for c := 0.05; c < 1; c += 0.05 {
			n := TrialsNeeded(c, 8, ratio)
			assert.GreaterOrEqual(t, n, prev, "ratio %g confidence %g", ratio, c)
			prev = n
		}
	}
}

func TestClampTrials(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30, ClampTrials(3, 30, 100))
	assert.Equal(t, 100, ClampTrials(math.MaxInt, 30, 100))
	assert.Equal(t, 50, ClampTrials(50, 30, 100))
}

func TestMat3(t *testing.T) {
	t.Parallel()

	m := Mat3{2, 1, 0, 0, 1, 3, 1, 0, 1}
	inv, ok := m.Inverse()
	require.True(t, ok)
	got := m.Mul(inv)
	for i := range got {
		assert.InDelta(t, Identity3[i], got[i], 1e-12)
	}
	_, ok = Mat3{1, 2, 3, 2, 4, 6, 0, 0, 1}.Inverse()
	assert.False(t, ok)
	assert.Equal(t, Mat3{1, 4, 7, 2, 5, 8, 3, 6, 9}, Mat3{1, 2, 3, 4, 5, 6, 7, 8, 9}.T())
}

func TestKind(t *testing.T) {
	t.Parallel()

	for k := KindUndefined; k <= KindUncalibrated; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("affine")
	assert.Error(t, err)
	assert.Equal(t, 8, KindFundamental.SampleSize())
	assert.Equal(t, 4, KindHomography.SampleSize())
	assert.Equal(t, 0, KindUndefined.SampleSize())
}

func TestNewModel(t *testing.T) {
	t.Parallel()

	_, err := NewModel(KindEssential, Identity3, nil)
	assert.ErrorIs(t, err, ErrMissingCameras)
	_, err = NewModel(KindUndefined, Identity3, nil)
	assert.Error(t, err)

	m, err := NewModel(KindHomography, Identity3, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0, m.Residual(Point{3, 4}, Point{3, 4}), 1e-12)
	assert.InDelta(t, 5, m.Residual(Point{0, 0}, Point{3, 4}), 1e-12)

	assert.True(t, math.IsInf(Model{}.Residual(Point{}, Point{}), 1))
}

func TestFitHomography_Exact(t *testing.T) {
	t.Parallel()

	s := testutil.NewPlanarScene(1, 4, testutil.MildHomography, 0, 640, 480)
	p1, p2 := scenePoints(t, s.Keypoints1, s.Keypoints2, s.Matches)
	h, ok := fitHomography(p1, p2)
	require.True(t, ok)
	for i := range h {
		assert.InDelta(t, testutil.MildHomography[i], h[i], 1e-6, "entry %d", i)
	}
}

func TestFitHomography_Degenerate(t *testing.T) {
	t.Parallel()

	line := []Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
	_, ok := fitHomography(line, line)
	assert.False(t, ok)
	_, ok = fitHomography(line[:3], line[:3])
	assert.False(t, ok)
}

func TestFitFundamental_NoiseFree(t *testing.T) {
	t.Parallel()

	o := testutil.DefaultStereoOptions()
	o.Noise = 0
	s := testutil.NewStereoScene(o)
	p1, p2 := scenePoints(t, s.Set1.Keypoints, s.Set2.Keypoints, s.Truth)

	f, ok := fitFundamental(p1[:8], p2[:8])
	require.True(t, ok)
	assert.InDelta(t, 0, f.Det(), 1e-9)
	m := Model{Kind: KindFundamental, Matrix: f, PixelF: f}
	for i := range p1 {
		assert.Less(t, m.Residual(p1[i], p2[i]), 1e-3)
	}
}

func TestFitEssential_NoiseFree(t *testing.T) {
	t.Parallel()

	o := testutil.DefaultStereoOptions()
	o.Noise = 0
	s := testutil.NewStereoScene(o)
	p1, p2 := scenePoints(t, s.Set1.Keypoints, s.Set2.Keypoints, s.Truth)

	m, ok := fit(KindEssential, sceneCameras(s), p1, p2)
	require.True(t, ok)
	for i := range p1 {
		assert.Less(t, m.Residual(p1[i], p2[i]), 1e-3)
	}
	_, ok = fit(KindEssential, nil, p1, p2)
	assert.False(t, ok)
}

func TestEstimate_FundamentalScenario(t *testing.T) {
	t.Parallel()

	s := testutil.NewStereoScene(testutil.DefaultStereoOptions())
	outliers := s.OutlierMatches(11, 20, 20)
	require.Len(t, outliers, 20)
	matches := append(append(feature.MatchList{}, s.Truth...), outliers...)
	p1, p2 := scenePoints(t, s.Set1.Keypoints, s.Set2.Keypoints, matches)

	opts := config.DefaultMatchingOptions()
	rep, err := Estimate(opts, KindFundamental, nil, p1, p2)
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.Equal(t, KindFundamental, rep.Model.Kind)
	assert.GreaterOrEqual(t, rep.NumInliers, 35)
	assert.LessOrEqual(t, rep.NumInliers, 40)
	assert.GreaterOrEqual(t, rep.NumTrials, opts.MinNumTrials)
	assert.LessOrEqual(t, rep.NumTrials, opts.MaxNumTrials)
	for i := len(s.Truth); i < len(matches); i++ {
		assert.False(t, rep.InlierMask[i], "outlier %d accepted", i)
	}
	assert.LessOrEqual(t, rep.MeanResidual, opts.MaxError)
}

func TestEstimate_TooFewPoints(t *testing.T) {
	t.Parallel()

	s := testutil.NewPlanarScene(1, 7, testutil.MildHomography, 0, 640, 480)
	p1, p2 := scenePoints(t, s.Keypoints1, s.Keypoints2, s.Matches)
	rep, err := Estimate(config.DefaultMatchingOptions(), KindFundamental, nil, p1, p2)
	assert.NoError(t, err)
	assert.Nil(t, rep)
}

func TestEstimate_Errors(t *testing.T) {
	t.Parallel()

	opts := config.DefaultMatchingOptions()
	_, err := Estimate(opts, KindEssential, nil, make([]Point, 8), make([]Point, 8))
	assert.ErrorIs(t, err, ErrMissingCameras)

	_, err = Estimate(opts, KindHomography, nil, make([]Point, 5), make([]Point, 4))
	assert.ErrorIs(t, err, ErrPointCount)

	_, err = Estimate(opts, KindEssential, &CameraPair{}, make([]Point, 8), make([]Point, 8))
	assert.ErrorIs(t, err, ErrInvalidCamera)

	bad := opts
	bad.MaxError = 0
	_, err = Estimate(bad, KindHomography, nil, nil, nil)
	assert.ErrorIs(t, err, config.ErrInvalidOptions)
}

func TestEstimate_Deterministic(t *testing.T) {
	t.Parallel()

	s := testutil.NewStereoScene(testutil.DefaultStereoOptions())
	matches := append(append(feature.MatchList{}, s.Truth...), s.OutlierMatches(2, 20, 20)...)
	p1, p2 := scenePoints(t, s.Set1.Keypoints, s.Set2.Keypoints, matches)

	opts := config.DefaultMatchingOptions()
	opts.RandomSeed = 42
	a, err := Estimate(opts, KindFundamental, nil, p1, p2)
	require.NoError(t, err)
	b, err := Estimate(opts, KindFundamental, nil, p1, p2)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEstimate_TrialsMonotoneInConfidence(t *testing.T) {
	t.Parallel()

	s := testutil.NewStereoScene(testutil.DefaultStereoOptions())
	matches := append(append(feature.MatchList{}, s.Truth...), s.OutlierMatches(5, 30, 20)...)
	p1, p2 := scenePoints(t, s.Set1.Keypoints, s.Set2.Keypoints, matches)

	opts := config.DefaultMatchingOptions()
	opts.MinNumTrials = 1
	prev := 0
	for _, c := range []float64{0.5, 0.9, 0.99, 0.999, 0.9999} {
		opts.Confidence = c
		rep, err := Estimate(opts, KindHomography, nil, p1, p2)
		require.NoError(t, err)
		require.NotNil(t, rep)
		assert.GreaterOrEqual(t, rep.NumTrials, prev, "confidence %g", c)
		prev = rep.NumTrials
	}
}

func TestVerify_InlierThreshold(t *testing.T) {
	t.Parallel()

	opts := config.DefaultMatchingOptions()
	require.Equal(t, 15, opts.MinNumInliers)

	below := testutil.NewPlanarScene(3, 14, testutil.MildHomography, 0, 640, 480)
	g, err := Verify(opts, below.Keypoints1, below.Keypoints2, below.Matches, nil)
	require.NoError(t, err)
	assert.Nil(t, g)

	at := testutil.NewPlanarScene(3, 15, testutil.MildHomography, 0, 640, 480)
	g, err = Verify(opts, at.Keypoints1, at.Keypoints2, at.Matches, nil)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, KindHomography, g.Kind)
	assert.Equal(t, 15, g.NumInliers)
	assert.Len(t, g.InlierMask, 15)
	assert.NotEmpty(t, g.ID)
	assert.InDelta(t, 1, g.InlierRatio, 1e-12)
}

func TestVerify_Uncalibrated(t *testing.T) {
	t.Parallel()

	s := testutil.NewStereoScene(testutil.DefaultStereoOptions())
	matches := append(append(feature.MatchList{}, s.Truth...), s.OutlierMatches(11, 20, 20)...)

	g, err := Verify(config.DefaultMatchingOptions(), s.Set1.Keypoints, s.Set2.Keypoints, matches, nil)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, KindUncalibrated, g.Kind)
	assert.GreaterOrEqual(t, g.NumInliers, 35)
	assert.LessOrEqual(t, g.NumInliers, 40)
	assert.Equal(t, matches, g.Matches)
	assert.Len(t, g.Inliers(), g.NumInliers)
}

func TestVerify_Calibrated(t *testing.T) {
	t.Parallel()

	o := testutil.DefaultStereoOptions()
	o.Noise = 0
	s := testutil.NewStereoScene(o)

	g, err := Verify(config.DefaultMatchingOptions(), s.Set1.Keypoints, s.Set2.Keypoints, s.Truth, sceneCameras(s))
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, KindEssential, g.Kind)
	assert.Equal(t, 40, g.NumInliers)
}

// mostlyPlanarRig projects 13 points on the plane z=6 and 3 points off it
// through a stereo rig with a 1m baseline.
func mostlyPlanarRig() ([]feature.Keypoint, []feature.Keypoint, feature.MatchList) {
	const focal, cx, cy = 800.0, 500.0, 400.0
	c, s := math.Cos(5*math.Pi/180), math.Sin(5*math.Pi/180)
	project := func(x, y, z float64) (feature.Keypoint, feature.Keypoint) {
		x2 := c*x + s*z + 1
		y2 := y
		z2 := -s*x + c*z + 0.2
		return feature.Keypoint{X: focal*x/z + cx, Y: focal*y/z + cy, Scale: 1},
			feature.Keypoint{X: focal*x2/z2 + cx, Y: focal*y2/z2 + cy, Scale: 1}
	}

	var world [][3]float64
	for _, x := range []float64{-2, -1, 0, 1, 2} {
		for _, y := range []float64{-1, 0, 1} {
			world = append(world, [3]float64{x, y, 6})
		}
	}
	world = world[:13]
	world = append(world, [3]float64{-1.2, 0.5, 3}, [3]float64{0.7, -0.8, 10}, [3]float64{1.5, 1.2, 4.5})

	var kps1, kps2 []feature.Keypoint
	var matches feature.MatchList
	for i, w := range world {
		a, b := project(w[0], w[1], w[2])
		kps1 = append(kps1, a)
		kps2 = append(kps2, b)
		matches = append(matches, feature.Match{Idx1: i, Idx2: i})
	}
	return kps1, kps2, matches
}

func TestVerify_SubThresholdHomographyKeepsFundamental(t *testing.T) {
	t.Parallel()

	kps1, kps2, matches := mostlyPlanarRig()
	opts := config.DefaultMatchingOptions()
	require.Equal(t, 15, opts.MinNumInliers)

	p1, p2 := scenePoints(t, kps1, kps2, matches)
	h, err := Estimate(opts, KindHomography, nil, p1, p2)
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Less(t, h.NumInliers, opts.MinNumInliers)

	g, err := Verify(opts, kps1, kps2, matches, nil)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, KindUncalibrated, g.Kind)
	assert.Equal(t, 16, g.NumInliers)
}

func TestVerify_MultipleModels(t *testing.T) {
	t.Parallel()

	h2 := [9]float64{0.9, 0, 200, 0, 0.9, -50, 0, 0, 1}
	a := testutil.NewPlanarScene(4, 30, testutil.MildHomography, 0, 320, 480)
	b := testutil.NewPlanarScene(5, 25, h2, 0, 320, 480)

	kps1 := append(append([]feature.Keypoint{}, a.Keypoints1...), b.Keypoints1...)
	kps2 := append(append([]feature.Keypoint{}, a.Keypoints2...), b.Keypoints2...)
	for i := len(a.Keypoints1); i < len(kps1); i++ {
		kps1[i].X += 320
	}
	matches := append(feature.MatchList{}, a.Matches...)
	for _, m := range b.Matches {
		matches = append(matches, feature.Match{Idx1: m.Idx1 + 30, Idx2: m.Idx2 + 30})
	}
	// Reproject the shifted second plane so its pairs still follow h2.
	for i := 30; i < len(kps1); i++ {
		u, v := testutil.Project(h2, kps1[i].X, kps1[i].Y)
		kps2[i].X, kps2[i].Y = u, v
	}

	opts := config.DefaultMatchingOptions()
	opts.MultipleModels = true
	opts.MaxHInlierRatio = 0.5
	g, err := Verify(opts, kps1, kps2, matches, nil)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.Len(t, g.Models, 2)
	assert.Equal(t, KindHomography, g.Models[0].Kind)
	assert.Equal(t, KindHomography, g.Models[1].Kind)
	assert.Equal(t, 55, g.NumInliers)
	for i, in := range g.InlierMask {
		assert.True(t, in, "match %d", i)
	}

	admits := g.Admits(opts.MaxError)
	assert.True(t, admits(KeypointPoint(kps1[0]), KeypointPoint(kps2[0])))
	assert.True(t, admits(KeypointPoint(kps1[40]), KeypointPoint(kps2[40])))
	assert.False(t, admits(KeypointPoint(kps1[0]), Point{X: -1000, Y: -1000}))
}

func TestVerify_Errors(t *testing.T) {
	t.Parallel()

	opts := config.DefaultMatchingOptions()
	kps := []feature.Keypoint{{X: 1, Y: 1}}
	_, err := Verify(opts, kps, kps, feature.MatchList{{Idx1: 0, Idx2: 3}}, nil)
	assert.Error(t, err)

	g, err := Verify(opts, kps, kps, nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, g)
}
