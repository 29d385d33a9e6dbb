package matching

import (
	"fmt"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/device"
	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/geometry"
)

// DeviceMatcher runs brute-force matching on one device context. Passing
// a nil set to Match or MatchGuided reuses the set uploaded by the
// previous call for that side.
type DeviceMatcher struct {
	opts config.MatchingOptions
	ctx  *device.Context
}

// NewDeviceMatcher opens a context on the given device index with room
// for opts.MaxNumMatches descriptors per side.
func NewDeviceMatcher(opts config.MatchingOptions, index int) (*DeviceMatcher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ctx, err := device.Open(index, opts.MaxNumMatches)
	if err != nil {
		return nil, err
	}
	return &DeviceMatcher{opts: opts, ctx: ctx}, nil
}

// Index returns the device the matcher runs on.
func (m *DeviceMatcher) Index() int { return m.ctx.Index() }

// Release frees the device context.
func (m *DeviceMatcher) Release() { m.ctx.Release() }

// upload makes set resident in slot, or keeps the current buffer when set
// is nil.
func (m *DeviceMatcher) upload(slot device.Slot, set *feature.DescriptorSet) (*feature.DescriptorSet, error) {
	if set == nil {
		return m.ctx.Resident(slot)
	}
	truncated, err := m.ctx.Upload(slot, set)
	if err != nil {
		return nil, err
	}
	if truncated {
		opsf("device %d: %d descriptors exceed capacity %d, extra features ignored",
			m.ctx.Index(), set.Len(), m.ctx.Capacity())
	}
	return m.ctx.Resident(slot)
}

// distances uploads both sides and converts the device similarity matrix
// to angular distances, masking pairs rejected by admissible.
func (m *DeviceMatcher) distances(a, b *feature.DescriptorSet, admissible func(a, b *feature.DescriptorSet) func(i, j int) bool) (*distanceMatrix, *feature.DescriptorSet, *feature.DescriptorSet, error) {
	ra, err := m.upload(device.SlotA, a)
	if err != nil {
		return nil, nil, nil, err
	}
	rb, err := m.upload(device.SlotB, b)
	if err != nil {
		return nil, nil, nil, err
	}
	if ra.Dim != rb.Dim {
		return nil, nil, nil, fmt.Errorf("%w: %d vs %d", feature.ErrDimensionMismatch, ra.Dim, rb.Dim)
	}
	if ra.Len() == 0 || rb.Len() == 0 {
		return nil, ra, rb, nil
	}
	sim, err := m.ctx.Similarity()
	if err != nil {
		return nil, nil, nil, err
	}
	d := newDistanceMatrix(sim.Rows, sim.Cols)
	for i := 0; i < sim.Rows; i++ {
		src := sim.Data[i*sim.Stride : i*sim.Stride+sim.Cols]
		dst := d.data[i*d.cols : (i+1)*d.cols]
		for j, c := range src {
			dst[j] = float32(acosClamped(float64(c)))
		}
	}
	if admissible != nil {
		d.mask(admissible(ra, rb))
	}
	return d, ra, rb, nil
}

// Match implements Matcher.
func (m *DeviceMatcher) Match(a, b *feature.DescriptorSet) (feature.MatchList, error) {
	border := borderFilter(m.opts.Border)
	var admissible func(a, b *feature.DescriptorSet) func(i, j int) bool
	if border != nil {
		admissible = func(*feature.DescriptorSet, *feature.DescriptorSet) func(i, j int) bool { return border }
	}
	d, ra, rb, err := m.distances(a, b, admissible)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return feature.MatchList{}, nil
	}
	matches := newFilter(m.opts).selectMatches(d)
	tracef("device %d: %d x %d features, %d matches", m.ctx.Index(), ra.Len(), rb.Len(), len(matches))
	return matches, nil
}

// MatchGuided implements Matcher.
func (m *DeviceMatcher) MatchGuided(a, b *feature.DescriptorSet, geom *geometry.TwoViewGeometry) error {
	if geom == nil {
		return ErrNilGeometry
	}
	admissible := func(ra, rb *feature.DescriptorSet) func(i, j int) bool {
		return both(guidedFilter(ra, rb, geom, m.opts.MaxError), borderFilter(m.opts.Border))
	}
	d, ra, rb, err := m.distances(a, b, admissible)
	if err != nil {
		return err
	}
	var matches feature.MatchList
	if d != nil {
		matches = newFilter(m.opts).relaxed().selectMatches(d)
	}
	applyGuided(geom, ra, rb, matches, m.opts.MaxError)
	return nil
}
