package geometry

import (
	"fmt"
	"math"
)

// Kind is the closed set of two-view model types.
type Kind int

const (
	KindUndefined Kind = iota
	KindFundamental
	KindEssential
	KindHomography
	// KindUncalibrated is a fundamental matrix chosen by verification
	// when the cameras are unknown or the essential model lost support.
	KindUncalibrated
)

func (k Kind) String() string {
	switch k {
	case KindFundamental:
		return "fundamental"
	case KindEssential:
		return "essential"
	case KindHomography:
		return "homography"
	case KindUncalibrated:
		return "uncalibrated"
	default:
		return "undefined"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindUndefined; k <= KindUncalibrated; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUndefined, fmt.Errorf("unknown model kind %q", s)
}

// SampleSize is the minimal number of correspondences the solver for k
// needs, or 0 for KindUndefined.
func (k Kind) SampleSize() int {
	switch k {
	case KindFundamental, KindEssential, KindUncalibrated:
		return 8
	case KindHomography:
		return 4
	default:
		return 0
	}
}

// Epipolar reports whether k relates points to lines.
func (k Kind) Epipolar() bool {
	return k == KindFundamental || k == KindEssential || k == KindUncalibrated
}

// Model is one estimated relation between two views.
type Model struct {
	Kind   Kind
	Matrix Mat3 // F, E or H depending on Kind

	// PixelF is the fundamental matrix in pixel coordinates used for
	// residuals of epipolar kinds. It equals Matrix except for essential
	// models.
	PixelF Mat3
}

// NewModel builds a model from its matrix. Essential models need the
// cameras to derive their pixel-space fundamental matrix.
func NewModel(kind Kind, m Mat3, cams *CameraPair) (Model, error) {
	switch kind {
	case KindFundamental, KindUncalibrated:
		return Model{Kind: kind, Matrix: m, PixelF: m}, nil
	case KindHomography:
		return Model{Kind: kind, Matrix: m}, nil
	case KindEssential:
		if cams == nil {
			return Model{}, ErrMissingCameras
		}
		f, ok := cams.pixelFundamental(m)
		if !ok {
			return Model{}, ErrInvalidCamera
		}
		return Model{Kind: kind, Matrix: m, PixelF: f}, nil
	default:
		return Model{}, fmt.Errorf("cannot build model of kind %v", kind)
	}
}

// ResidualFunc returns the pixel residual of a correspondence under m.
// Undefined models report +Inf.
func (m Model) ResidualFunc() func(p1, p2 Point) float64 {
	switch {
	case m.Kind.Epipolar():
		f := m.PixelF
		return func(p1, p2 Point) float64 { return sampson(f, p1, p2) }
	case m.Kind == KindHomography:
		h := m.Matrix
		hinv, ok := h.Inverse()
		if !ok {
			return func(Point, Point) float64 { return math.Inf(1) }
		}
		return func(p1, p2 Point) float64 { return symmetricTransfer(h, hinv, p1, p2) }
	default:
		return func(Point, Point) float64 { return math.Inf(1) }
	}
}

// Residual is a convenience wrapper around ResidualFunc for one pair.
func (m Model) Residual(p1, p2 Point) float64 {
	return m.ResidualFunc()(p1, p2)
}

// sampson is the first-order geometric distance of (p1, p2) to the
// epipolar constraint p2^T F p1 = 0.
func sampson(f Mat3, p1, p2 Point) float64 {
	// F p1
	ax := f[0]*p1.X + f[1]*p1.Y + f[2]
	ay := f[3]*p1.X + f[4]*p1.Y + f[5]
	az := f[6]*p1.X + f[7]*p1.Y + f[8]
	// F^T p2
	bx := f[0]*p2.X + f[3]*p2.Y + f[6]
	by := f[1]*p2.X + f[4]*p2.Y + f[7]

	num := p2.X*ax + p2.Y*ay + az
	den := ax*ax + ay*ay + bx*bx + by*by
	if den == 0 {
		if num == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(num) / math.Sqrt(den)
}

func symmetricTransfer(h, hinv Mat3, p1, p2 Point) float64 {
	fwd, ok1 := h.project(p1)
	back, ok2 := hinv.project(p2)
	if !ok1 || !ok2 {
		return math.Inf(1)
	}
	df := fwd.Dist(p2)
	db := back.Dist(p1)
	return math.Sqrt((df*df + db*db) / 2)
}
