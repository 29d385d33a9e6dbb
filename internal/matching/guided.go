package matching

import (
	"math"

	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/geometry"
)

// guidedFilter admits pairs whose keypoints some model of geom explains
// within maxError pixels.
func guidedFilter(a, b *feature.DescriptorSet, geom *geometry.TwoViewGeometry, maxError float64) func(i, j int) bool {
	admits := geom.Admits(maxError)
	pa := make([]geometry.Point, a.Len())
	for i, kp := range a.Keypoints {
		pa[i] = geometry.KeypointPoint(kp)
	}
	pb := make([]geometry.Point, b.Len())
	for j, kp := range b.Keypoints {
		pb[j] = geometry.KeypointPoint(kp)
	}
	return func(i, j int) bool { return admits(pa[i], pb[j]) }
}

// applyGuided stores guided matches on geom. Every guided match is an
// inlier by construction; the models are left untouched.
func applyGuided(geom *geometry.TwoViewGeometry, a, b *feature.DescriptorSet, matches feature.MatchList, maxError float64) {
	if matches == nil {
		matches = feature.MatchList{}
	}
	mask := make([]bool, len(matches))
	for i := range mask {
		mask[i] = true
	}

	fns := make([]func(p1, p2 geometry.Point) float64, len(geom.Models))
	for i, m := range geom.Models {
		fns[i] = m.ResidualFunc()
	}
	var total float64
	for _, m := range matches {
		p1 := geometry.KeypointPoint(a.Keypoints[m.Idx1])
		p2 := geometry.KeypointPoint(b.Keypoints[m.Idx2])
		r := math.Inf(1)
		for _, fn := range fns {
			r = math.Min(r, fn(p1, p2))
		}
		if r <= maxError {
			total += r
		}
	}

	before := geom.NumInliers
	geom.Matches = matches
	geom.InlierMask = mask
	geom.NumInliers = len(matches)
	geom.InlierRatio = 0
	geom.MeanResidual = 0
	if len(matches) > 0 {
		geom.InlierRatio = 1
		geom.MeanResidual = total / float64(len(matches))
	}
	diagf("guided matching: %d inliers -> %d matches", before, len(matches))
}
