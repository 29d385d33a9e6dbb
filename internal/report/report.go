// Package report renders verification results: a PNG histogram of match
// residuals (gonum/plot) and an HTML dashboard of per-pair inlier counts
// and inlier/outlier locations (go-echarts).
package report

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/geometry"
	"github.com/banshee-data/twoview/internal/pipeline"
)

var ErrNoData = errors.New("nothing to plot")

// PairSummary is the per-pair view used by the HTML report. Locations
// are in image 1 coordinates.
type PairSummary struct {
	Label      string
	Kind       geometry.Kind
	NumMatches int
	NumInliers int
	Inliers    []geometry.Point
	Outliers   []geometry.Point
}

// Residuals returns the smallest residual of every match of g over its
// models.
func Residuals(g *geometry.TwoViewGeometry, kps1, kps2 []feature.Keypoint) ([]float64, error) {
	p1, p2, err := geometry.PointsFromMatches(kps1, kps2, g.Matches)
	if err != nil {
		return nil, err
	}
	fns := make([]func(a, b geometry.Point) float64, len(g.Models))
	for i, m := range g.Models {
		fns[i] = m.ResidualFunc()
	}
	out := make([]float64, len(p1))
	for i := range p1 {
		r := math.Inf(1)
		for _, fn := range fns {
			r = math.Min(r, fn(p1[i], p2[i]))
		}
		out[i] = r
	}
	return out, nil
}

// Summarize builds pair summaries and collects the residuals of every
// verified pair. Unverified pairs are listed with zero inliers.
func Summarize(results []pipeline.Result, sets []*feature.DescriptorSet) ([]PairSummary, []float64, error) {
	summaries := make([]PairSummary, 0, len(results))
	var residuals []float64
	for _, r := range results {
		s := PairSummary{
			Label:      fmt.Sprintf("%d-%d", r.Pair.Image1, r.Pair.Image2),
			NumMatches: len(r.Matches),
		}
		if g := r.Geometry; g != nil {
			kps1, kps2 := sets[r.Pair.Image1].Keypoints, sets[r.Pair.Image2].Keypoints
			res, err := Residuals(g, kps1, kps2)
			if err != nil {
				return nil, nil, fmt.Errorf("pair %s: %w", s.Label, err)
			}
			residuals = append(residuals, res...)
			s.Kind = g.Kind
			s.NumInliers = g.NumInliers
			for i, m := range g.Matches {
				p := geometry.KeypointPoint(kps1[m.Idx1])
				if i < len(g.InlierMask) && g.InlierMask[i] {
					s.Inliers = append(s.Inliers, p)
				} else {
					s.Outliers = append(s.Outliers, p)
				}
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, residuals, nil
}
