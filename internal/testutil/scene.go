package testutil

import (
	"math"

	"github.com/banshee-data/twoview/internal/feature"
)

// StereoOptions describes a calibrated two-camera scene. Both cameras
// share the intrinsics; the second is rotated about the y axis and
// translated.
type StereoOptions struct {
	Seed               uint64
	NumFeatures1       int
	NumFeatures2       int
	NumCorrespondences int
	Focal, CX, CY      float64
	RotationDeg        float64
	Translation        [3]float64
	Noise              float64 // pixel standard deviation
	DescriptorNoise    int
	Dim                int
}

// DefaultStereoOptions is the 100/120 feature scene with 40 true
// correspondences.
func DefaultStereoOptions() StereoOptions {
	return StereoOptions{
		Seed:               7,
		NumFeatures1:       100,
		NumFeatures2:       120,
		NumCorrespondences: 40,
		Focal:              800,
		CX:                 500,
		CY:                 400,
		RotationDeg:        5,
		Translation:        [3]float64{1, 0, 0.2},
		Noise:              0.5,
		DescriptorNoise:    3,
		Dim:                feature.DefaultDimension,
	}
}

// StereoScene is a generated image pair with ground truth.
type StereoScene struct {
	Set1, Set2 *feature.DescriptorSet
	Truth      feature.MatchList // true correspondences, Idx1 ascending
	F          [9]float64        // pixel fundamental matrix
	E          [9]float64
	K          [9]float64
	Options    StereoOptions
}

// NewStereoScene projects random points X in [-2,2], Y in [-1.5,1.5],
// Z in [5,10] into both cameras. The first NumCorrespondences features of
// image 1 are true projections; image 2 places its copies at shuffled
// positions. Remaining features are random distractors.
func NewStereoScene(o StereoOptions) *StereoScene {
	rng := NewRand(o.Seed)
	k := [9]float64{o.Focal, 0, o.CX, 0, o.Focal, o.CY, 0, 0, 1}
	kinv := [9]float64{1 / o.Focal, 0, -o.CX / o.Focal, 0, 1 / o.Focal, -o.CY / o.Focal, 0, 0, 1}
	th := o.RotationDeg * math.Pi / 180
	r := [9]float64{math.Cos(th), 0, math.Sin(th), 0, 1, 0, -math.Sin(th), 0, math.Cos(th)}
	t := o.Translation
	tx := [9]float64{0, -t[2], t[1], t[2], 0, -t[0], -t[1], t[0], 0}
	e := mul3(tx, r)
	f := mul3(mul3(transpose3(kinv), e), kinv)

	width, height := 2*o.CX, 2*o.CY
	kps1 := make([]feature.Keypoint, o.NumFeatures1)
	rows1 := make([][]uint8, o.NumFeatures1)
	kps2 := make([]feature.Keypoint, o.NumFeatures2)
	rows2 := make([][]uint8, o.NumFeatures2)

	slots := rng.Perm(o.NumFeatures2)[:o.NumCorrespondences]
	used := make(map[int]bool, len(slots))
	truth := make(feature.MatchList, o.NumCorrespondences)
	for i := 0; i < o.NumCorrespondences; i++ {
		X := -2 + 4*rng.Float64()
		Y := -1.5 + 3*rng.Float64()
		Z := 5 + 5*rng.Float64()
		x1, y1 := o.Focal*X/Z+o.CX, o.Focal*Y/Z+o.CY
		X2 := r[0]*X + r[1]*Y + r[2]*Z + t[0]
		Y2 := r[3]*X + r[4]*Y + r[5]*Z + t[1]
		Z2 := r[6]*X + r[7]*Y + r[8]*Z + t[2]
		x2, y2 := o.Focal*X2/Z2+o.CX, o.Focal*Y2/Z2+o.CY

		scale := 1 + 4*rng.Float64()
		kps1[i] = feature.Keypoint{X: x1 + o.Noise*rng.NormFloat64(), Y: y1 + o.Noise*rng.NormFloat64(), Scale: scale}
		j := slots[i]
		used[j] = true
		kps2[j] = feature.Keypoint{X: x2 + o.Noise*rng.NormFloat64(), Y: y2 + o.Noise*rng.NormFloat64(), Scale: scale}
		base := RandomDescriptor(rng, o.Dim)
		rows1[i] = Perturb(rng, base, o.DescriptorNoise)
		rows2[j] = Perturb(rng, base, o.DescriptorNoise)
		truth[i] = feature.Match{Idx1: i, Idx2: j}
	}
	for i := o.NumCorrespondences; i < o.NumFeatures1; i++ {
		kps1[i] = feature.Keypoint{X: rng.Float64() * width, Y: rng.Float64() * height, Scale: 1 + 4*rng.Float64()}
		rows1[i] = RandomDescriptor(rng, o.Dim)
	}
	for j := 0; j < o.NumFeatures2; j++ {
		if used[j] {
			continue
		}
		kps2[j] = feature.Keypoint{X: rng.Float64() * width, Y: rng.Float64() * height, Scale: 1 + 4*rng.Float64()}
		rows2[j] = RandomDescriptor(rng, o.Dim)
	}

	return &StereoScene{
		Set1:    DescriptorSet(kps1, rows1, o.Dim),
		Set2:    DescriptorSet(kps2, rows2, o.Dim),
		Truth:   truth,
		F:       f,
		E:       e,
		K:       k,
		Options: o,
	}
}

// OutlierMatches pairs distractor features so that every returned match
// has a Sampson residual above minResidual under the true F.
func (s *StereoScene) OutlierMatches(seed uint64, n int, minResidual float64) feature.MatchList {
	rng := NewRand(seed)
	inTruth := make(map[int]bool, len(s.Truth))
	for _, m := range s.Truth {
		inTruth[m.Idx2] = true
	}
	var free2 []int
	for j := 0; j < s.Set2.Len(); j++ {
		if !inTruth[j] {
			free2 = append(free2, j)
		}
	}
	out := make(feature.MatchList, 0, n)
	for i := s.Options.NumCorrespondences; i < s.Set1.Len() && len(out) < n; i++ {
		a := s.Set1.Keypoints[i]
		for tries := 0; tries < 64; tries++ {
			j := free2[rng.IntN(len(free2))]
			b := s.Set2.Keypoints[j]
			if Sampson(s.F, a.X, a.Y, b.X, b.Y) > minResidual {
				out = append(out, feature.Match{Idx1: i, Idx2: j})
				break
			}
		}
	}
	return out
}

// PlanarScene is a pair of views of a plane related by a known homography.
type PlanarScene struct {
	Keypoints1, Keypoints2 []feature.Keypoint
	Matches                feature.MatchList
	H                      [9]float64
}

// NewPlanarScene maps n random points of a width x height image through h
// and adds Gaussian pixel noise.
func NewPlanarScene(seed uint64, n int, h [9]float64, noise, width, height float64) *PlanarScene {
	rng := NewRand(seed)
	s := &PlanarScene{
		Keypoints1: make([]feature.Keypoint, n),
		Keypoints2: make([]feature.Keypoint, n),
		Matches:    make(feature.MatchList, n),
		H:          h,
	}
	for i := 0; i < n; i++ {
		x, y := rng.Float64()*width, rng.Float64()*height
		u, v := Project(h, x, y)
		s.Keypoints1[i] = feature.Keypoint{X: x, Y: y, Scale: 2}
		s.Keypoints2[i] = feature.Keypoint{X: u + noise*rng.NormFloat64(), Y: v + noise*rng.NormFloat64(), Scale: 2}
		s.Matches[i] = feature.Match{Idx1: i, Idx2: i}
	}
	return s
}

// MildHomography is a small perspective warp that keeps a 20 px grid
// well separated.
var MildHomography = [9]float64{1.02, 0.01, 15, -0.01, 0.98, 8, 1e-5, 0, 1}

// RepetitiveScene is a grid of features whose descriptors repeat a few
// texture classes, so appearance alone is ambiguous.
type RepetitiveScene struct {
	Set1, Set2 *feature.DescriptorSet
	Truth      feature.MatchList
	H          [9]float64
}

// NewRepetitiveScene lays a rows x cols grid with the given spacing in
// image 1, maps it through h into image 2 and assigns descriptor class
// (r*cols+c) % classes to every cell.
func NewRepetitiveScene(seed uint64, rows, cols int, spacing float64, classes int, h [9]float64) *RepetitiveScene {
	rng := NewRand(seed)
	dim := feature.DefaultDimension
	bases := make([][]uint8, classes)
	for i := range bases {
		bases[i] = RandomDescriptor(rng, dim)
	}
	n := rows * cols
	kps1 := make([]feature.Keypoint, 0, n)
	kps2 := make([]feature.Keypoint, 0, n)
	rows1 := make([][]uint8, 0, n)
	rows2 := make([][]uint8, 0, n)
	truth := make(feature.MatchList, 0, n)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x, y := 40+float64(c)*spacing, 40+float64(r)*spacing
			u, v := Project(h, x, y)
			i := len(kps1)
			kps1 = append(kps1, feature.Keypoint{X: x, Y: y, Scale: 2})
			kps2 = append(kps2, feature.Keypoint{X: u + 0.3*rng.NormFloat64(), Y: v + 0.3*rng.NormFloat64(), Scale: 2})
			base := bases[i%classes]
			rows1 = append(rows1, Perturb(rng, base, 2))
			rows2 = append(rows2, Perturb(rng, base, 2))
			truth = append(truth, feature.Match{Idx1: i, Idx2: i})
		}
	}
	return &RepetitiveScene{
		Set1:  DescriptorSet(kps1, rows1, dim),
		Set2:  DescriptorSet(kps2, rows2, dim),
		Truth: truth,
		H:     h,
	}
}
