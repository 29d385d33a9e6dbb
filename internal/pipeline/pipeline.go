// Package pipeline runs match, verify and guided matching over a list of
// image pairs, on a CPU worker pool or on one or more device contexts.
package pipeline

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/twoview/internal/config"
	"github.com/banshee-data/twoview/internal/feature"
	"github.com/banshee-data/twoview/internal/geometry"
	"github.com/banshee-data/twoview/internal/matching"
)

var ErrBadPair = errors.New("pair references unknown image")

// Pair names two images by their index in the input.
type Pair struct {
	Image1, Image2 int
}

// Input is the per-image data shared by all pairs. Cameras is optional;
// when present it is indexed like Sets and nil entries mark images with
// unknown intrinsics.
type Input struct {
	Sets    []*feature.DescriptorSet
	Cameras []*geometry.Camera
}

func (in Input) cameras(p Pair) *geometry.CameraPair {
	if in.Cameras == nil || in.Cameras[p.Image1] == nil || in.Cameras[p.Image2] == nil {
		return nil
	}
	return &geometry.CameraPair{Camera1: *in.Cameras[p.Image1], Camera2: *in.Cameras[p.Image2]}
}

// Result is the outcome for one pair. Geometry is nil when verification
// found no valid model.
type Result struct {
	Pair     Pair
	Matches  feature.MatchList
	Geometry *geometry.TwoViewGeometry
}

func (in Input) validate(pairs []Pair) error {
	if in.Cameras != nil && len(in.Cameras) != len(in.Sets) {
		return fmt.Errorf("%d cameras for %d images", len(in.Cameras), len(in.Sets))
	}
	for i, p := range pairs {
		if p.Image1 < 0 || p.Image1 >= len(in.Sets) || p.Image2 < 0 || p.Image2 >= len(in.Sets) {
			return fmt.Errorf("%w: pair %d (%d,%d) with %d images", ErrBadPair, i, p.Image1, p.Image2, len(in.Sets))
		}
		if in.Sets[p.Image1] == nil || in.Sets[p.Image2] == nil {
			return fmt.Errorf("%w: pair %d has no features", ErrBadPair, i)
		}
	}
	return nil
}

// Run processes every pair. Results are indexed like pairs.
func Run(opts config.MatchingOptions, in Input, pairs []Pair) ([]Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := in.validate(pairs); err != nil {
		return nil, err
	}
	start := time.Now()
	var (
		out []Result
		err error
	)
	if opts.UseGPU {
		out, err = runDevices(opts, in, pairs)
	} else {
		out, err = runCPU(opts, in, pairs)
	}
	if err != nil {
		return nil, err
	}
	verified := 0
	for _, r := range out {
		if r.Geometry != nil {
			verified++
		}
	}
	opsf("processed %d pairs (%d verified) in %v", len(pairs), verified, time.Since(start).Round(time.Millisecond))
	return out, nil
}

// process runs one pair through a matcher. a and b may be nil for device
// matchers reusing resident uploads; fa and fb are the full sets used for
// keypoint lookup.
func process(opts config.MatchingOptions, m matching.Matcher, a, b, fa, fb *feature.DescriptorSet, cams *geometry.CameraPair) (feature.MatchList, *geometry.TwoViewGeometry, error) {
	matches, err := m.Match(a, b)
	if err != nil {
		return nil, nil, fmt.Errorf("match: %w", err)
	}
	geom, err := geometry.Verify(opts, fa.Keypoints, fb.Keypoints, matches, cams)
	if err != nil {
		return nil, nil, fmt.Errorf("verify: %w", err)
	}
	if geom != nil && opts.GuidedMatching {
		if err := m.MatchGuided(a, b, geom); err != nil {
			return nil, nil, fmt.Errorf("guided match: %w", err)
		}
	}
	return matches, geom, nil
}

func runCPU(opts config.MatchingOptions, in Input, pairs []Pair) ([]Result, error) {
	m, err := matching.NewCPUMatcher(opts)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(pairs))
	var g errgroup.Group
	g.SetLimit(config.Threads(opts.NumThreads, runtime.NumCPU()))
	for i, p := range pairs {
		g.Go(func() error {
			a, b := in.Sets[p.Image1], in.Sets[p.Image2]
			matches, geom, err := process(opts, m, a, b, a, b, in.cameras(p))
			if err != nil {
				return fmt.Errorf("pair (%d,%d): %w", p.Image1, p.Image2, err)
			}
			out[i] = Result{Pair: p, Matches: matches, Geometry: geom}
			diagf("pair (%d,%d): %d matches", p.Image1, p.Image2, len(matches))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// runDevices gives each device one goroutine and a round-robin share of
// the pairs. Consecutive pairs on a device that share an image reuse its
// upload.
func runDevices(opts config.MatchingOptions, in Input, pairs []Pair) ([]Result, error) {
	indices, err := config.ParseGPUIndices(opts.GPUIndex)
	if err != nil {
		return nil, err
	}
	matchers := make([]*matching.DeviceMatcher, 0, len(indices))
	defer func() {
		for _, m := range matchers {
			m.Release()
		}
	}()
	for _, idx := range indices {
		m, err := matching.NewDeviceMatcher(opts, idx)
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", idx, err)
		}
		matchers = append(matchers, m)
	}

	out := make([]Result, len(pairs))
	var g errgroup.Group
	for w, m := range matchers {
		g.Go(func() error {
			prev := Pair{Image1: -1, Image2: -1}
			for i := w; i < len(pairs); i += len(matchers) {
				p := pairs[i]
				fa, fb := in.Sets[p.Image1], in.Sets[p.Image2]
				a, b := fa, fb
				if p.Image1 == prev.Image1 {
					a = nil
				}
				if p.Image2 == prev.Image2 {
					b = nil
				}
				matches, geom, err := process(opts, m, a, b, fa, fb, in.cameras(p))
				if err != nil {
					return fmt.Errorf("device %d pair (%d,%d): %w", m.Index(), p.Image1, p.Image2, err)
				}
				if a == nil || b == nil {
					tracef("device %d reused upload for pair (%d,%d)", m.Index(), p.Image1, p.Image2)
				}
				out[i] = Result{Pair: p, Matches: matches, Geometry: geom}
				prev = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
