package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// fit estimates a model of the given kind from at least SampleSize
// correspondences. With more points the solvers return the algebraic
// least-squares solution.
func fit(kind Kind, cams *CameraPair, p1, p2 []Point) (Model, bool) {
	switch kind {
	case KindFundamental, KindUncalibrated:
		f, ok := fitFundamental(p1, p2)
		if !ok {
			return Model{}, false
		}
		return Model{Kind: kind, Matrix: f, PixelF: f}, true
	case KindEssential:
		if cams == nil {
			return Model{}, false
		}
		e, ok := fitEssential(*cams, p1, p2)
		if !ok {
			return Model{}, false
		}
		m, err := NewModel(KindEssential, e, cams)
		return m, err == nil && m.PixelF.finite()
	case KindHomography:
		h, ok := fitHomography(p1, p2)
		if !ok {
			return Model{}, false
		}
		return Model{Kind: kind, Matrix: h}, true
	default:
		return Model{}, false
	}
}

// epipolarSystem builds the 8-point design matrix for x2^T M x1 = 0.
func epipolarSystem(n1, n2 []Point) *mat.Dense {
	a := mat.NewDense(len(n1), 9, nil)
	for i := range n1 {
		x1, y1 := n1[i].X, n1[i].Y
		x2, y2 := n2[i].X, n2[i].Y
		a.SetRow(i, []float64{x2 * x1, x2 * y1, x2, y2 * x1, y2 * y1, y2, x1, y1, 1})
	}
	return a
}

// fitFundamental is the normalized 8-point algorithm with rank 2 enforced.
func fitFundamental(p1, p2 []Point) (Mat3, bool) {
	if len(p1) < 8 || len(p1) != len(p2) {
		return Mat3{}, false
	}
	n1, t1 := normalizePoints(p1)
	n2, t2 := normalizePoints(p2)

	v, ok := nullVector(epipolarSystem(n1, n2))
	if !ok {
		return Mat3{}, false
	}
	var fn Mat3
	copy(fn[:], v)
	fn, ok = reshapeSingular(fn, func(s [3]float64) [3]float64 {
		return [3]float64{s[0], s[1], 0}
	})
	if !ok {
		return Mat3{}, false
	}
	f := t2.T().Mul(fn).Mul(t1).FrobeniusNormalized()
	return f, f.finite()
}

// fitEssential runs the normalized 8-point algorithm on calibrated
// coordinates and projects onto singular values (1, 1, 0).
func fitEssential(cams CameraPair, p1, p2 []Point) (Mat3, bool) {
	if len(p1) < 8 || len(p1) != len(p2) {
		return Mat3{}, false
	}
	c1 := make([]Point, len(p1))
	c2 := make([]Point, len(p2))
	for i := range p1 {
		c1[i] = cams.Camera1.Normalize(p1[i])
		c2[i] = cams.Camera2.Normalize(p2[i])
	}
	n1, t1 := normalizePoints(c1)
	n2, t2 := normalizePoints(c2)

	v, ok := nullVector(epipolarSystem(n1, n2))
	if !ok {
		return Mat3{}, false
	}
	var en Mat3
	copy(en[:], v)
	e := t2.T().Mul(en).Mul(t1)
	e, ok = reshapeSingular(e, func(s [3]float64) [3]float64 {
		return [3]float64{1, 1, 0}
	})
	return e, ok
}

// fitHomography is the normalized direct linear transform.
func fitHomography(p1, p2 []Point) (Mat3, bool) {
	if len(p1) < 4 || len(p1) != len(p2) {
		return Mat3{}, false
	}
	if len(p1) == 4 && (degenerateQuad(p1) || degenerateQuad(p2)) {
		return Mat3{}, false
	}
	n1, t1 := normalizePoints(p1)
	n2, t2 := normalizePoints(p2)

	a := mat.NewDense(2*len(n1), 9, nil)
	for i := range n1 {
		x1, y1 := n1[i].X, n1[i].Y
		x2, y2 := n2[i].X, n2[i].Y
		a.SetRow(2*i, []float64{-x1, -y1, -1, 0, 0, 0, x2 * x1, x2 * y1, x2})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x1, -y1, -1, y2 * x1, y2 * y1, y2})
	}
	v, ok := nullVector(a)
	if !ok {
		return Mat3{}, false
	}
	var hn Mat3
	copy(hn[:], v)
	t2inv, ok := t2.Inverse()
	if !ok {
		return Mat3{}, false
	}
	h := t2inv.Mul(hn).Mul(t1)
	if math.Abs(h[8]) > 1e-12 {
		h = h.Scale(1 / h[8])
	} else {
		h = h.FrobeniusNormalized()
	}
	if !h.finite() {
		return Mat3{}, false
	}
	if _, ok := h.Inverse(); !ok {
		return Mat3{}, false
	}
	return h, true
}

// degenerateQuad reports whether any three of four points are collinear.
func degenerateQuad(p []Point) bool {
	return collinear(p[0], p[1], p[2]) || collinear(p[0], p[1], p[3]) ||
		collinear(p[0], p[2], p[3]) || collinear(p[1], p[2], p[3])
}
