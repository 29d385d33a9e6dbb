// Package testutil provides deterministic synthetic fixtures shared by the
// matching, geometry and pipeline tests: random descriptors, calibrated
// stereo scenes with known fundamental matrices, planar scenes with known
// homographies and repetitive textures.
//
// The package depends on feature only so that any package can use it from
// its internal tests.
package testutil

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/twoview/internal/feature"
)

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}

// RandomDescriptor draws a SIFT-like descriptor with entries in [0, 120).
func RandomDescriptor(rng *rand.Rand, dim int) []uint8 {
	d := make([]uint8, dim)
	for i := range d {
		d[i] = uint8(rng.IntN(120))
	}
	return d
}

// Perturb returns a copy of d with every entry moved by up to noise.
func Perturb(rng *rand.Rand, d []uint8, noise int) []uint8 {
	out := make([]uint8, len(d))
	for i, v := range d {
		x := int(v)
		if noise > 0 {
			x += rng.IntN(2*noise+1) - noise
		}
		out[i] = uint8(max(0, min(255, x)))
	}
	return out
}

// DescriptorSet packs keypoints and descriptor rows into a set. It panics
// on inconsistent input since fixtures are built by tests.
func DescriptorSet(kps []feature.Keypoint, rows [][]uint8, dim int) *feature.DescriptorSet {
	flat := make([]uint8, 0, len(rows)*dim)
	for _, r := range rows {
		flat = append(flat, r...)
	}
	s, err := feature.NewDescriptorSet(kps, flat, dim)
	if err != nil {
		panic(err)
	}
	return s
}

// RandomSet builds n random features inside a width x height image.
func RandomSet(rng *rand.Rand, n, dim int, width, height float64) *feature.DescriptorSet {
	kps := make([]feature.Keypoint, n)
	rows := make([][]uint8, n)
	for i := range kps {
		kps[i] = feature.Keypoint{X: rng.Float64() * width, Y: rng.Float64() * height, Scale: 1 + rng.Float64()*4}
		rows[i] = RandomDescriptor(rng, dim)
	}
	return DescriptorSet(kps, rows, dim)
}

// Project applies the row-major 3x3 matrix m to (x, y, 1).
func Project(m [9]float64, x, y float64) (float64, float64) {
	w := m[6]*x + m[7]*y + m[8]
	return (m[0]*x + m[1]*y + m[2]) / w, (m[3]*x + m[4]*y + m[5]) / w
}

// Sampson is the first-order epipolar distance of (x1,y1)-(x2,y2) under
// the pixel fundamental matrix f.
func Sampson(f [9]float64, x1, y1, x2, y2 float64) float64 {
	ax := f[0]*x1 + f[1]*y1 + f[2]
	ay := f[3]*x1 + f[4]*y1 + f[5]
	az := f[6]*x1 + f[7]*y1 + f[8]
	bx := f[0]*x2 + f[3]*y2 + f[6]
	by := f[1]*x2 + f[4]*y2 + f[7]
	num := x2*ax + y2*ay + az
	return math.Abs(num) / math.Sqrt(ax*ax+ay*ay+bx*bx+by*by)
}

func mul3(a, b [9]float64) [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = a[i*3]*b[j] + a[i*3+1]*b[3+j] + a[i*3+2]*b[6+j]
		}
	}
	return out
}

func transpose3(a [9]float64) [9]float64 {
	return [9]float64{a[0], a[3], a[6], a[1], a[4], a[7], a[2], a[5], a[8]}
}
