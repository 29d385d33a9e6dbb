package geometry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/twoview/internal/config"
)

var (
	ErrMissingCameras = errors.New("essential model requires camera intrinsics")
	ErrPointCount     = errors.New("point lists differ in length")
)

// refitRounds bounds the least-squares refinement after sampling.
const refitRounds = 2

// pcgStream is the fixed PCG stream selector; the seed comes from options.
const pcgStream = 0x9e3779b97f4a7c15

// TrialsNeeded returns the number of RANSAC trials required to draw at
// least one all-inlier sample of sampleSize points with the given
// confidence when a fraction inlierRatio of the data are inliers.
func TrialsNeeded(confidence float64, sampleSize int, inlierRatio float64) int {
	if inlierRatio >= 1 || confidence <= 0 {
		return 0
	}
	if inlierRatio <= 0 || confidence >= 1 {
		return math.MaxInt
	}
	p := math.Pow(inlierRatio, float64(sampleSize))
	denom := math.Log1p(-p)
	if p <= 0 || denom == 0 {
		return math.MaxInt
	}
	n := math.Ceil(math.Log1p(-confidence) / denom)
	if n >= math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}

// ClampTrials limits n to [minTrials, maxTrials].
func ClampTrials(n, minTrials, maxTrials int) int {
	return max(minTrials, min(n, maxTrials))
}

// Report is the outcome of one robust estimation.
type Report struct {
	Model        Model
	InlierMask   []bool
	NumInliers   int
	NumTrials    int
	InlierRatio  float64
	MeanResidual float64 // over inliers
}

type scored struct {
	model    Model
	mask     []bool
	inliers  int
	residual float64 // sum over inliers
}

func score(m Model, p1, p2 []Point, maxError float64) scored {
	res := m.ResidualFunc()
	s := scored{model: m, mask: make([]bool, len(p1))}
	for i := range p1 {
		if r := res(p1[i], p2[i]); r <= maxError {
			s.mask[i] = true
			s.inliers++
			s.residual += r
		}
	}
	return s
}

// Estimate runs adaptive RANSAC for one model kind. It returns nil without
// an error when there are fewer correspondences than the minimal sample or
// no sample produced a model.
func Estimate(opts config.MatchingOptions, kind Kind, cams *CameraPair, p1, p2 []Point) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(p1) != len(p2) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrPointCount, len(p1), len(p2))
	}
	sampleSize := kind.SampleSize()
	if sampleSize == 0 {
		return nil, fmt.Errorf("cannot estimate model of kind %v", kind)
	}
	if kind == KindEssential {
		if cams == nil {
			return nil, ErrMissingCameras
		}
		if err := cams.Camera1.Validate(); err != nil {
			return nil, err
		}
		if err := cams.Camera2.Validate(); err != nil {
			return nil, err
		}
	}
	n := len(p1)
	if n < sampleSize {
		return nil, nil
	}

	rng := rand.New(rand.NewPCG(opts.RandomSeed, pcgStream))
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	s1 := make([]Point, sampleSize)
	s2 := make([]Point, sampleSize)

	budget := ClampTrials(TrialsNeeded(opts.Confidence, sampleSize, opts.MinInlierRatio),
		opts.MinNumTrials, opts.MaxNumTrials)
	budget = max(budget, 1)

	var best *scored
	trial := 0
	for ; trial < budget; trial++ {
		// Partial Fisher-Yates: the first sampleSize entries of perm
		// form a uniform sample without replacement.
		for i := 0; i < sampleSize; i++ {
			j := i + rng.IntN(n-i)
			perm[i], perm[j] = perm[j], perm[i]
			s1[i] = p1[perm[i]]
			s2[i] = p2[perm[i]]
		}
		m, ok := fit(kind, cams, s1, s2)
		if !ok {
			continue
		}
		cand := score(m, p1, p2, opts.MaxError)
		if best != nil && cand.inliers <= best.inliers {
			continue
		}
		best = &cand
		ratio := float64(cand.inliers) / float64(n)
		budget = max(ClampTrials(TrialsNeeded(opts.Confidence, sampleSize, ratio),
			opts.MinNumTrials, opts.MaxNumTrials), 1)
		tracef("%v trial %d: %d/%d inliers, budget %d", kind, trial, cand.inliers, n, budget)
	}
	if best == nil {
		diagf("%v: no model after %d trials on %d points", kind, trial, n)
		return nil, nil
	}

	for round := 0; round < refitRounds && best.inliers >= sampleSize; round++ {
		in1 := make([]Point, 0, best.inliers)
		in2 := make([]Point, 0, best.inliers)
		for i, ok := range best.mask {
			if ok {
				in1 = append(in1, p1[i])
				in2 = append(in2, p2[i])
			}
		}
		m, ok := fit(kind, cams, in1, in2)
		if !ok {
			break
		}
		cand := score(m, p1, p2, opts.MaxError)
		if cand.inliers < best.inliers {
			break
		}
		grew := cand.inliers > best.inliers
		best = &cand
		if !grew {
			break
		}
	}

	r := &Report{
		Model:       best.model,
		InlierMask:  best.mask,
		NumInliers:  best.inliers,
		NumTrials:   trial,
		InlierRatio: float64(best.inliers) / float64(n),
	}
	if best.inliers > 0 {
		r.MeanResidual = best.residual / float64(best.inliers)
	}
	diagf("%v: %d/%d inliers after %d trials", kind, r.NumInliers, n, r.NumTrials)
	return r, nil
}
