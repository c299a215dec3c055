package tensor

import (
	"fmt"
	"math"
)

// Add returns the element-wise sum of a and b. Panics on shape
// mismatch.
func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: add shape mismatch: %v vs %v", a.shape, b.shape))
	}
	out := New(a.shape...)
	for i := range a.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	return out
}

// Mul returns the element-wise (Hadamard) product of a and b. Panics on
// shape mismatch.
func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: mul shape mismatch: %v vs %v", a.shape, b.shape))
	}
	out := New(a.shape...)
	for i := range a.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	return out
}

// Scale multiplies every element of a by scalar.
func Scale(a *Tensor, scalar float64) *Tensor {
	out := New(a.shape...)
	for i := range a.data {
		out.data[i] = a.data[i] * scalar
	}
	return out
}

// MatMul computes the matrix product of two rank-2 tensors. Panics if
// either input is not rank-2 or the inner dimensions differ.
func MatMul(a, b *Tensor) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic(fmt.Sprintf("tensor: matmul needs rank-2 inputs, got %v x %v", a.shape, b.shape))
	}
	m, k := a.shape[0], a.shape[1]
	k2, n := b.shape[0], b.shape[1]
	if k != k2 {
		panic(fmt.Sprintf("tensor: matmul inner dims differ: %v x %v", a.shape, b.shape))
	}

	out := New(m, n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for kk := 0; kk < k; kk++ {
				sum += a.data[i*k+kk] * b.data[kk*n+j]
			}
			out.data[i*n+j] = sum
		}
	}
	return out
}

// ReLU applies max(0, x) element-wise.
func ReLU(x *Tensor) *Tensor {
	out := New(x.shape...)
	for i, v := range x.data {
		out.data[i] = math.Max(0, v)
	}
	return out
}
