package feature

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidDimension  = errors.New("descriptor dimension must be positive")
	ErrMisaligned        = errors.New("keypoints and descriptors are not aligned")
	ErrDimensionMismatch = errors.New("descriptor sets have different dimensions")
)

// DefaultDimension is the SIFT descriptor length.
const DefaultDimension = 128

// Keypoint is a detected feature location in image coordinates.
type Keypoint struct {
	X           float64
	Y           float64
	Scale       float64
	Orientation float64 // radians
}

// DescriptorSet is the ordered list of keypoints of one image together with
// their quantized descriptors. Index i of Keypoints owns row i of
// Descriptors. The set is read-only once constructed.
type DescriptorSet struct {
	Keypoints   []Keypoint
	Descriptors []uint8 // row-major, Len() x Dim
	Dim         int
}

// NewDescriptorSet validates and wraps keypoints and a row-major descriptor
// matrix. The slices are not copied.
func NewDescriptorSet(keypoints []Keypoint, descriptors []uint8, dim int) (*DescriptorSet, error) {
	s := &DescriptorSet{Keypoints: keypoints, Descriptors: descriptors, Dim: dim}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the keypoint/descriptor alignment invariant.
func (s *DescriptorSet) Validate() error {
	if s.Dim <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidDimension, s.Dim)
	}
	if len(s.Descriptors) != len(s.Keypoints)*s.Dim {
		return fmt.Errorf("%w: %d keypoints, %d descriptor values, dim %d",
			ErrMisaligned, len(s.Keypoints), len(s.Descriptors), s.Dim)
	}
	return nil
}

// Len returns the number of features. A nil set is empty.
func (s *DescriptorSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Keypoints)
}

// Descriptor returns row i of the descriptor matrix without copying.
func (s *DescriptorSet) Descriptor(i int) []uint8 {
	return s.Descriptors[i*s.Dim : (i+1)*s.Dim]
}

// Norms returns the Euclidean norm of every descriptor row.
func (s *DescriptorSet) Norms() []float64 {
	norms := make([]float64, s.Len())
	for i := range norms {
		var sum int
		for _, v := range s.Descriptor(i) {
			sum += int(v) * int(v)
		}
		norms[i] = math.Sqrt(float64(sum))
	}
	return norms
}

// Head returns a set holding the first n features, sharing storage with s.
func (s *DescriptorSet) Head(n int) *DescriptorSet {
	if n >= s.Len() {
		return s
	}
	return &DescriptorSet{
		Keypoints:   s.Keypoints[:n],
		Descriptors: s.Descriptors[:n*s.Dim],
		Dim:         s.Dim,
	}
}

// Match pairs feature Idx1 of the first set with feature Idx2 of the second.
type Match struct {
	Idx1 int
	Idx2 int
}

// MatchList is an ordered list of matches in the order the matcher emitted
// them. The order carries no geometric meaning.
type MatchList []Match

// Swap returns a copy with the roles of the two sets exchanged.
func (l MatchList) Swap() MatchList {
	out := make(MatchList, len(l))
	for i, m := range l {
		out[i] = Match{Idx1: m.Idx2, Idx2: m.Idx1}
	}
	return out
}

// Select returns the matches whose mask entry is true.
func (l MatchList) Select(mask []bool) MatchList {
	out := make(MatchList, 0, len(l))
	for i, m := range l {
		if i < len(mask) && mask[i] {
			out = append(out, m)
		}
	}
	return out
}
