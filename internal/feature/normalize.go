package feature

import (
	"fmt"
	"math"
	"strings"
)

// Normalization selects how raw float descriptors are normalized before
// quantization.
type Normalization int

const (
	// NormalizationL1Root L1-normalizes then takes the element-wise square
	// root (RootSIFT). The result has unit L2 norm.
	NormalizationL1Root Normalization = iota
	// NormalizationL2 L2-normalizes each descriptor.
	NormalizationL2
)

func (n Normalization) String() string {
	switch n {
	case NormalizationL1Root:
		return "l1_root"
	case NormalizationL2:
		return "l2"
	}
	return fmt.Sprintf("Normalization(%d)", int(n))
}

// ParseNormalization accepts the names produced by String.
func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l1_root", "l1root", "l1-root":
		return NormalizationL1Root, nil
	case "l2":
		return NormalizationL2, nil
	}
	return 0, fmt.Errorf("unknown descriptor normalization %q", s)
}

// Normalize applies n to v in place.
func (n Normalization) Normalize(v []float32) {
	switch n {
	case NormalizationL1Root:
		var sum float64
		for _, x := range v {
			sum += math.Abs(float64(x))
		}
		if sum == 0 {
			return
		}
		for i, x := range v {
			v[i] = float32(math.Sqrt(math.Abs(float64(x)) / sum))
		}
	case NormalizationL2:
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum == 0 {
			return
		}
		norm := math.Sqrt(sum)
		for i, x := range v {
			v[i] = float32(float64(x) / norm)
		}
	}
}

// Quantize maps a unit-norm descriptor to bytes as round(512*v), clamped to
// [0,255]. Components of a unit vector rarely exceed 0.5, so the clamp only
// bites on degenerate descriptors.
func Quantize(dst []uint8, v []float32) {
	for i, x := range v {
		q := math.Round(512 * float64(x))
		switch {
		case q < 0:
			q = 0
		case q > 255:
			q = 255
		}
		dst[i] = uint8(q)
	}
}
