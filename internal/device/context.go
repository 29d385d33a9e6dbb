// Package device provides the persistent matcher device context: an
// explicit resource handle that keeps uploaded descriptor buffers resident
// between calls and computes brute-force similarity matrices with a single
// GEMM.
//
// A Context is not safe for concurrent use. It is meant to be created once,
// reused sequentially across image pairs by one caller, and released.
package device

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/banshee-data/twoview/internal/feature"
)

var (
	ErrInvalidDevice   = errors.New("invalid device index")
	ErrInvalidCapacity = errors.New("device capacity must be positive")
	ErrNotUploaded     = errors.New("no descriptors uploaded for slot")
	ErrReleased        = errors.New("device context already released")
	ErrNilSet          = errors.New("descriptor set is nil")
)

// Slot addresses one of the two resident descriptor buffers.
type Slot int

const (
	SlotA Slot = iota
	SlotB
)

// NumDevices reports how many device lanes can be opened. Devices are
// host BLAS lanes, one per CPU.
func NumDevices() int {
	return runtime.NumCPU()
}

type buffer struct {
	set  *feature.DescriptorSet
	unit []float32 // rows x dim, unit-length rows
}

// Context is one device lane with two resident upload slots.
type Context struct {
	index    int
	capacity int
	slots    [2]*buffer
	released bool
}

// Open creates a context on the given device. Index -1 selects device 0.
// capacity bounds the number of descriptors resident per slot.
func Open(index, capacity int) (*Context, error) {
	if index == -1 {
		index = 0
	}
	if index < 0 || index >= NumDevices() {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrInvalidDevice, index, NumDevices())
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Context{index: index, capacity: capacity}, nil
}

// Index returns the resolved device index.
func (c *Context) Index() int { return c.index }

// Capacity returns the per-slot descriptor limit.
func (c *Context) Capacity() int { return c.capacity }

// Upload makes set resident in slot, replacing the previous buffer. Sets
// larger than the capacity are truncated; truncated reports whether that
// happened.
func (c *Context) Upload(slot Slot, set *feature.DescriptorSet) (truncated bool, err error) {
	if c.released {
		return false, ErrReleased
	}
	if slot != SlotA && slot != SlotB {
		return false, fmt.Errorf("unknown slot %d", slot)
	}
	if set == nil {
		return false, ErrNilSet
	}
	if err := set.Validate(); err != nil {
		return false, err
	}
	if set.Len() > c.capacity {
		set = set.Head(c.capacity)
		truncated = true
	}

	unit := make([]float32, set.Len()*set.Dim)
	for i := 0; i < set.Len(); i++ {
		row := set.Descriptor(i)
		var sum float64
		for _, v := range row {
			sum += float64(v) * float64(v)
		}
		if sum == 0 {
			continue
		}
		inv := 1 / math.Sqrt(sum)
		dst := unit[i*set.Dim : (i+1)*set.Dim]
		for k, v := range row {
			dst[k] = float32(float64(v) * inv)
		}
	}
	c.slots[slot] = &buffer{set: set, unit: unit}
	return truncated, nil
}

// Resident returns the set currently uploaded to slot.
func (c *Context) Resident(slot Slot) (*feature.DescriptorSet, error) {
	if c.released {
		return nil, ErrReleased
	}
	if slot != SlotA && slot != SlotB {
		return nil, fmt.Errorf("unknown slot %d", slot)
	}
	b := c.slots[slot]
	if b == nil {
		return nil, fmt.Errorf("%w %d on device %d", ErrNotUploaded, slot, c.index)
	}
	return b.set, nil
}

// Similarity returns the cosine similarity of every resident descriptor in
// slot A against every resident descriptor in slot B as a rows(A) x rows(B)
// matrix.
func (c *Context) Similarity() (blas32.General, error) {
	a, err := c.Resident(SlotA)
	if err != nil {
		return blas32.General{}, err
	}
	b, err := c.Resident(SlotB)
	if err != nil {
		return blas32.General{}, err
	}
	if a.Dim != b.Dim {
		return blas32.General{}, fmt.Errorf("%w: %d vs %d", feature.ErrDimensionMismatch, a.Dim, b.Dim)
	}

	out := blas32.General{Rows: a.Len(), Cols: b.Len(), Stride: max(b.Len(), 1)}
	if a.Len() == 0 || b.Len() == 0 {
		return out, nil
	}
	out.Data = make([]float32, a.Len()*b.Len())

	ga := blas32.General{Rows: a.Len(), Cols: a.Dim, Stride: a.Dim, Data: c.slots[SlotA].unit}
	gb := blas32.General{Rows: b.Len(), Cols: b.Dim, Stride: b.Dim, Data: c.slots[SlotB].unit}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, ga, gb, 0, out)
	return out, nil
}

// Release drops the resident buffers. The context cannot be used again.
func (c *Context) Release() {
	c.slots = [2]*buffer{}
	c.released = true
}
