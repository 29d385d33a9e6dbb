package geometry

import (
	"github.com/google/uuid"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/feature"
)

// TwoViewGeometry is the verified relation between two images. Models are
// listed in discovery order; InlierMask is aligned with Matches.
type TwoViewGeometry struct {
	ID           string
	Kind         Kind
	Models       []Model
	Matches      feature.MatchList
	InlierMask   []bool
	NumInliers   int
	NumTrials    int
	InlierRatio  float64
	MeanResidual float64
}

// Inliers returns the matches flagged in InlierMask.
func (g *TwoViewGeometry) Inliers() feature.MatchList {
	return g.Matches.Select(g.InlierMask)
}

// Admits reports whether some model of g explains (p1, p2) within
// maxError. It prepares the residual functions once.
func (g *TwoViewGeometry) Admits(maxError float64) func(p1, p2 Point) bool {
	fns := make([]func(p1, p2 Point) float64, len(g.Models))
	for i, m := range g.Models {
		fns[i] = m.ResidualFunc()
	}
	return func(p1, p2 Point) bool {
		for _, fn := range fns {
			if fn(p1, p2) <= maxError {
				return true
			}
		}
		return false
	}
}

// Verify estimates the two-view geometry of a matched image pair. cams may
// be nil for uncalibrated views. It returns nil without an error when no
// model reaches opts.MinNumInliers.
func Verify(opts config.MatchingOptions, kps1, kps2 []feature.Keypoint, matches feature.MatchList, cams *CameraPair) (*TwoViewGeometry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	p1, p2, err := PointsFromMatches(kps1, kps2, matches)
	if err != nil {
		return nil, err
	}

	first, err := selectModel(opts, cams, p1, p2)
	if err != nil || first == nil {
		return nil, err
	}

	g := &TwoViewGeometry{
		ID:           uuid.New().String(),
		Kind:         first.Model.Kind,
		Models:       []Model{first.Model},
		Matches:      append(feature.MatchList(nil), matches...),
		InlierMask:   first.InlierMask,
		NumInliers:   first.NumInliers,
		NumTrials:    first.NumTrials,
		MeanResidual: first.MeanResidual,
	}

	if opts.MultipleModels {
		var rest []int
		for i, in := range first.InlierMask {
			if !in {
				rest = append(rest, i)
			}
		}
		r1 := make([]Point, len(rest))
		r2 := make([]Point, len(rest))
		for k, i := range rest {
			r1[k] = p1[i]
			r2[k] = p2[i]
		}
		second, err := selectModel(opts, cams, r1, r2)
		if err != nil {
			return nil, err
		}
		if second != nil {
			g.Models = append(g.Models, second.Model)
			for k, i := range rest {
				if second.InlierMask[k] {
					g.InlierMask[i] = true
				}
			}
			total := float64(g.NumInliers)*g.MeanResidual + float64(second.NumInliers)*second.MeanResidual
			g.NumInliers += second.NumInliers
			g.NumTrials += second.NumTrials
			g.MeanResidual = total / float64(g.NumInliers)
		}
	}
	if len(matches) > 0 {
		g.InlierRatio = float64(g.NumInliers) / float64(len(matches))
	}
	diagf("verified %v with %d model(s): %d/%d inliers, %d trials",
		g.Kind, len(g.Models), g.NumInliers, len(matches), g.NumTrials)
	return g, nil
}

// selectModel estimates every applicable kind and applies the model
// selection rules. Only candidates reaching MinNumInliers take part.
func selectModel(opts config.MatchingOptions, cams *CameraPair, p1, p2 []Point) (*Report, error) {
	f, err := Estimate(opts, KindUncalibrated, nil, p1, p2)
	if err != nil {
		return nil, err
	}
	var e *Report
	if cams != nil {
		if e, err = Estimate(opts, KindEssential, cams, p1, p2); err != nil {
			return nil, err
		}
	}
	h, err := Estimate(opts, KindHomography, nil, p1, p2)
	if err != nil {
		return nil, err
	}

	valid := func(r *Report) bool {
		return r != nil && r.NumInliers > 0 && r.NumInliers >= opts.MinNumInliers
	}

	var primary *Report
	switch {
	case valid(e) && (f == nil || float64(e.NumInliers) >= opts.MinEFInlierRatio*float64(f.NumInliers)):
		primary = e
	case valid(f):
		primary = f
	}
	// A planar model only replaces a valid primary when it is valid itself.
	if valid(h) && (primary == nil || float64(h.NumInliers) > opts.MaxHInlierRatio*float64(primary.NumInliers)) {
		primary = h
	}
	if primary == nil {
		diagf("rejected pair: F=%d E=%d H=%d inliers, need %d",
			inlierCount(f), inlierCount(e), inlierCount(h), opts.MinNumInliers)
		return nil, nil
	}
	return primary, nil
}

func inlierCount(r *Report) int {
	if r == nil {
		return 0
	}
	return r.NumInliers
}
