// Package tensor provides the numeric value type flowing through traced
// graphs, plus the comparison metrics used to score shadow candidates
// against their reference outputs.
package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor is a multi-dimensional array of float64 values stored in
// row-major order.
//
// Tensor is not safe for concurrent use. Synchronization must be
// handled by the caller if needed.
type Tensor struct {
	data  []float64
	shape []int
}

// New creates a tensor with the given shape, initialized to zero.
// Panics if shape is invalid (empty or contains non-positive dimensions);
// shape errors are programmer bugs, not runtime conditions.
func New(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}

	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		data:  make([]float64, size),
		shape: shapeCopy,
	}
}

// FromSlice creates a tensor with the given shape, copying its elements
// from data. Panics if len(data) does not match the shape's size.
func FromSlice(data []float64, shape ...int) *Tensor {
	t := New(shape...)
	if len(data) != len(t.data) {
		panic(fmt.Sprintf("tensor: shape %v needs %d elements, got %d", shape, len(t.data), len(data)))
	}
	copy(t.data, data)
	return t
}

// Scalar creates a rank-1, single-element tensor holding v.
func Scalar(v float64) *Tensor {
	t := New(1)
	t.data[0] = v
	return t
}

// Rand creates a tensor with values from a normal distribution using the
// provided source, scaled to a small standard deviation suitable for
// weight initialization.
func Rand(rng *rand.Rand, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = 0.02 * rng.NormFloat64()
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Dims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return len(t.data)
}

// At returns the element at the given indices.
// Panics if indices are invalid - this is a programmer error.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

// Data returns the tensor's backing slice. The slice is shared, not
// copied; callers that need isolation should Clone first.
func (t *Tensor) Data() []float64 {
	return t.data
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := New(t.shape...)
	copy(c.data, t.data)
	return c
}

// flatIndex converts multi-dimensional indices to a flat index.
// Panics on invalid indices.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}
	return idx
}

// String returns a compact human-readable description.
func (t *Tensor) String() string {
	if t.Size() == 1 {
		return fmt.Sprintf("tensor(%g)", t.data[0])
	}
	return fmt.Sprintf("tensor(shape=%v)", t.shape)
}

// Equal reports whether a and b have identical shapes and element-wise
// values within tol.
func Equal(a, b *Tensor, tol float64) bool {
	if !shapeEqual(a.shape, b.shape) {
		return false
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol {
			return false
		}
	}
	return true
}

// Stack concatenates n same-shaped tensors into a single tensor with a
// new leading dimension of n. Panics on an empty input or mismatched
// shapes.
func Stack(ts []*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: cannot stack zero tensors")
	}
	first := ts[0]
	out := New(append([]int{len(ts)}, first.shape...)...)
	for i, t := range ts {
		if !shapeEqual(t.shape, first.shape) {
			panic(fmt.Sprintf("tensor: stack shape mismatch at %d: %v vs %v", i, t.shape, first.shape))
		}
		copy(out.data[i*first.Size():], t.data)
	}
	return out
}

// Mean returns the arithmetic mean over all elements.
func Mean(t *Tensor) float64 {
	sum := 0.0
	for _, v := range t.data {
		sum += v
	}
	return sum / float64(len(t.data))
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
