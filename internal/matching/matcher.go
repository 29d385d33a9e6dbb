package matching

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/geometry"
)

var (
	ErrNilSet      = errors.New("descriptor set is nil")
	ErrNilGeometry = errors.New("two-view geometry is nil")
)

// Matcher is the capability shared by the CPU and device backends.
type Matcher interface {
	// Match returns the putative matches of a against b.
	Match(a, b *feature.DescriptorSet) (feature.MatchList, error)
	// MatchGuided replaces geom.Matches with matches admissible under
	// geom's models.
	MatchGuided(a, b *feature.DescriptorSet, geom *geometry.TwoViewGeometry) error
}

// CPUMatcher is the stateless host backend.
type CPUMatcher struct {
	opts config.MatchingOptions
}

// NewCPUMatcher validates opts and returns a CPU backend.
func NewCPUMatcher(opts config.MatchingOptions) (*CPUMatcher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &CPUMatcher{opts: opts}, nil
}

func checkSets(a, b *feature.DescriptorSet) error {
	if a == nil || b == nil {
		return ErrNilSet
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if a.Dim != b.Dim {
		return fmt.Errorf("%w: %d vs %d", feature.ErrDimensionMismatch, a.Dim, b.Dim)
	}
	return nil
}

// Match implements Matcher.
func (m *CPUMatcher) Match(a, b *feature.DescriptorSet) (feature.MatchList, error) {
	if err := checkSets(a, b); err != nil {
		return nil, err
	}
	if a.Len() == 0 || b.Len() == 0 {
		return feature.MatchList{}, nil
	}
	d := cpuDistances(a, b, borderFilter(m.opts.Border))
	matches := newFilter(m.opts).selectMatches(d)
	tracef("cpu: %d x %d features, %d matches", a.Len(), b.Len(), len(matches))
	return matches, nil
}

// MatchGuided implements Matcher.
func (m *CPUMatcher) MatchGuided(a, b *feature.DescriptorSet, geom *geometry.TwoViewGeometry) error {
	if err := checkSets(a, b); err != nil {
		return err
	}
	if geom == nil {
		return ErrNilGeometry
	}
	var matches feature.MatchList
	if a.Len() > 0 && b.Len() > 0 {
		admissible := both(guidedFilter(a, b, geom, m.opts.MaxError), borderFilter(m.opts.Border))
		d := cpuDistances(a, b, admissible)
		matches = newFilter(m.opts).relaxed().selectMatches(d)
	}
	applyGuided(geom, a, b, matches, m.opts.MaxError)
	return nil
}

// SetPair is one unit of work for MatchPairs.
type SetPair struct {
	A, B *feature.DescriptorSet
}

// MatchPairs matches every pair on a bounded pool of CPU workers. Results
// are indexed like pairs. The first error aborts the remaining work.
func MatchPairs(opts config.MatchingOptions, pairs []SetPair) ([]feature.MatchList, error) {
	m, err := NewCPUMatcher(opts)
	if err != nil {
		return nil, err
	}
	out := make([]feature.MatchList, len(pairs))
	var g errgroup.Group
	g.SetLimit(config.Threads(opts.NumThreads, runtime.NumCPU()))
	for i, p := range pairs {
		g.Go(func() error {
			matches, err := m.Match(p.A, p.B)
			if err != nil {
				return fmt.Errorf("pair %d: %w", i, err)
			}
			out[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
