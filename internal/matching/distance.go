package matching

import (
	"math"

	"github.com/banshee-data/twoview/internal/feature"
)

// Distance is the angle in radians between two descriptors. A zero
// descriptor is at pi/2 from everything.
func Distance(a, b []uint8) float64 {
	var dot, na, nb int
	for k := range a {
		dot += int(a[k]) * int(b[k])
		na += int(a[k]) * int(a[k])
		nb += int(b[k]) * int(b[k])
	}
	return angle(float64(dot), math.Sqrt(float64(na)), math.Sqrt(float64(nb)))
}

func angle(dot, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return math.Pi / 2
	}
	return acosClamped(dot / (na * nb))
}

func acosClamped(c float64) float64 {
	return math.Acos(max(-1, min(1, c)))
}

// distanceMatrix holds angular distances, rows indexing set A and columns
// set B. Inadmissible pairs hold +Inf.
type distanceMatrix struct {
	rows, cols int
	data       []float32
}

var inf32 = float32(math.Inf(1))

func newDistanceMatrix(rows, cols int) *distanceMatrix {
	return &distanceMatrix{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

func (d *distanceMatrix) at(i, j int) float32 { return d.data[i*d.cols+j] }

// mask sets every pair rejected by admissible to +Inf. A nil predicate
// admits everything.
func (d *distanceMatrix) mask(admissible func(i, j int) bool) {
	if admissible == nil {
		return
	}
	for i := 0; i < d.rows; i++ {
		row := d.data[i*d.cols : (i+1)*d.cols]
		for j := range row {
			if !admissible(i, j) {
				row[j] = inf32
			}
		}
	}
}

// cpuDistances computes the matrix with exact integer dot products.
// Inadmissible pairs are skipped.
func cpuDistances(a, b *feature.DescriptorSet, admissible func(i, j int) bool) *distanceMatrix {
	d := newDistanceMatrix(a.Len(), b.Len())
	na, nb := a.Norms(), b.Norms()
	for i := 0; i < d.rows; i++ {
		da := a.Descriptor(i)
		row := d.data[i*d.cols : (i+1)*d.cols]
		for j := range row {
			if admissible != nil && !admissible(i, j) {
				row[j] = inf32
				continue
			}
			db := b.Descriptor(j)
			var dot int
			for k, v := range da {
				dot += int(v) * int(db[k])
			}
			row[j] = float32(angle(float64(dot), na[i], nb[j]))
		}
	}
	return d
}

// borderFilter admits pairs on opposite sides of the border index. It
// returns nil when border is zero.
func borderFilter(border int) func(i, j int) bool {
	if border <= 0 {
		return nil
	}
	return func(i, j int) bool { return (i < border) != (j < border) }
}

// both combines two optional predicates.
func both(f, g func(i, j int) bool) func(i, j int) bool {
	switch {
	case f == nil:
		return g
	case g == nil:
		return f
	}
	return func(i, j int) bool { return f(i, j) && g(i, j) }
}
