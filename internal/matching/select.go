package matching

import (
	"math"
	"sort"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/feature"
)

// filter is the acceptance rule applied to nearest-neighbour candidates.
type filter struct {
	maxRatio      float64
	maxDistance   float64
	crossCheck    bool
	maxNumMatches int
}

func newFilter(opts config.MatchingOptions) filter {
	return filter{
		maxRatio:      opts.MaxRatio,
		maxDistance:   opts.MaxDistance,
		crossCheck:    opts.CrossCheck,
		maxNumMatches: opts.MaxNumMatches,
	}
}

// relaxed loosens the ratio test for geometry-guided candidates.
func (f filter) relaxed() filter {
	f.maxRatio = (1 + f.maxRatio) / 2
	return f
}

// candidate is the nearest and second-nearest neighbour of one feature.
// idx is -1 when no admissible neighbour exists.
type candidate struct {
	idx    int
	best   float64
	second float64
}

func (c candidate) ratio() float64 {
	if math.IsInf(c.second, 1) {
		return 0
	}
	return c.best / c.second
}

func (f filter) accept(c candidate) bool {
	if c.idx < 0 || c.second == 0 {
		return false
	}
	return c.best <= f.maxRatio*c.second && c.best <= f.maxDistance
}

func newCandidate() candidate {
	return candidate{idx: -1, best: math.Inf(1), second: math.Inf(1)}
}

// offer updates the candidate with the distance to index j. The first of
// equal distances keeps the best slot.
func (c *candidate) offer(j int, v float32) {
	if math.IsInf(float64(v), 1) {
		return
	}
	d := float64(v)
	switch {
	case d < c.best:
		c.second = c.best
		c.best = d
		c.idx = j
	case d < c.second:
		c.second = d
	}
}

func nearestRows(d *distanceMatrix) []candidate {
	out := make([]candidate, d.rows)
	for i := range out {
		c := newCandidate()
		for j := 0; j < d.cols; j++ {
			c.offer(j, d.at(i, j))
		}
		out[i] = c
	}
	return out
}

// nearestCols is nearestRows on the transposed matrix.
func nearestCols(d *distanceMatrix) []candidate {
	out := make([]candidate, d.cols)
	for j := range out {
		out[j] = newCandidate()
	}
	for i := 0; i < d.rows; i++ {
		for j := 0; j < d.cols; j++ {
			out[j].offer(i, d.at(i, j))
		}
	}
	return out
}

// selectMatches applies the filter to a distance matrix.
func (f filter) selectMatches(d *distanceMatrix) feature.MatchList {
	fwd := nearestRows(d)
	var back []candidate
	if f.crossCheck {
		back = nearestCols(d)
	}

	matches := make(feature.MatchList, 0, len(fwd))
	ratios := make([]float64, 0, len(fwd))
	for i, c := range fwd {
		if !f.accept(c) {
			continue
		}
		if f.crossCheck {
			b := back[c.idx]
			if b.idx != i || !f.accept(b) {
				continue
			}
		}
		matches = append(matches, feature.Match{Idx1: i, Idx2: c.idx})
		ratios = append(ratios, c.ratio())
	}
	return capMatches(matches, ratios, f.maxNumMatches)
}

// capMatches keeps the limit matches with the lowest ratio, ties broken
// by lower Idx1, in their original order.
func capMatches(matches feature.MatchList, ratios []float64, limit int) feature.MatchList {
	if limit <= 0 || len(matches) <= limit {
		return matches
	}
	order := make([]int, len(matches))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		a, b := order[x], order[y]
		if ratios[a] != ratios[b] {
			return ratios[a] < ratios[b]
		}
		return matches[a].Idx1 < matches[b].Idx1
	})
	keep := make([]bool, len(matches))
	for _, k := range order[:limit] {
		keep[k] = true
	}
	diagf("capped %d matches to %d", len(matches), limit)
	return matches.Select(keep)
}
