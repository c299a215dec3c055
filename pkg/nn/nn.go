// Package nn provides a small vocabulary of concrete modules runnable
// inside graph modules: reference layers plus fake-quantized variants
// used as shadow candidates.
package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// Linear is a fully connected layer: y = x*W + b.
type Linear struct {
	W *tensor.Parameter // shape (in, out)
	B *tensor.Parameter // shape (1, out)
}

// NewLinear creates a linear layer with small random weights.
func NewLinear(rng *rand.Rand, in, out int) *Linear {
	return &Linear{
		W: tensor.NewParameter(tensor.Rand(rng, in, out)),
		B: tensor.NewParameter(tensor.Rand(rng, 1, out)),
	}
}

// Forward applies the layer to a single rank-2 tensor input.
func (l *Linear) Forward(args ...any) (any, error) {
	x, err := tensorInput("linear", args)
	if err != nil {
		return nil, err
	}
	return addRowBias(tensor.MatMul(x, l.W.Tensor), l.B.Tensor), nil
}

// Clone deep-copies the layer, including parameter storage.
func (l *Linear) Clone() graph.Module {
	return &Linear{
		W: tensor.NewParameter(l.W.Clone()),
		B: tensor.NewParameter(l.B.Clone()),
	}
}

// Attr exposes parameters for dotted-path lookup.
func (l *Linear) Attr(name string) (any, bool) {
	switch name {
	case "weight":
		return l.W, true
	case "bias":
		return l.B, true
	}
	return nil, false
}

// ReLU applies max(0, x) element-wise.
type ReLU struct{}

func (r *ReLU) Forward(args ...any) (any, error) {
	x, err := tensorInput("relu", args)
	if err != nil {
		return nil, err
	}
	return tensor.ReLU(x), nil
}

func (r *ReLU) Clone() graph.Module {
	return &ReLU{}
}

// QuantizedLinear simulates running a Linear layer under a uniform
// affine quantization of its weights with the given bit width. It is
// the stand-in "apply a quantization config" transform for candidates.
type QuantizedLinear struct {
	Inner *Linear
	Bits  int
}

// NewQuantizedLinear wraps a deep copy of l; the source layer is never
// shared with the candidate.
func NewQuantizedLinear(l *Linear, bits int) *QuantizedLinear {
	return &QuantizedLinear{Inner: l.Clone().(*Linear), Bits: bits}
}

func (q *QuantizedLinear) Forward(args ...any) (any, error) {
	x, err := tensorInput("quantized_linear", args)
	if err != nil {
		return nil, err
	}
	w := quantize(q.Inner.W.Tensor, q.Bits)
	return addRowBias(tensor.MatMul(x, w), q.Inner.B.Tensor), nil
}

func (q *QuantizedLinear) Clone() graph.Module {
	return &QuantizedLinear{Inner: q.Inner.Clone().(*Linear), Bits: q.Bits}
}

// quantize rounds t onto a symmetric uniform grid with 2^bits levels
// spanning [-max|t|, max|t|].
func quantize(t *tensor.Tensor, bits int) *tensor.Tensor {
	maxAbs := 0.0
	for _, v := range t.Data() {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	if maxAbs == 0 {
		return t.Clone()
	}
	levels := float64(int(1)<<uint(bits-1)) - 1
	scale := maxAbs / levels
	out := t.Clone()
	data := out.Data()
	for i, v := range data {
		data[i] = math.Round(v/scale) * scale
	}
	return out
}

func addRowBias(x, b *tensor.Tensor) *tensor.Tensor {
	shape := x.Shape()
	rows, cols := shape[0], shape[1]
	out := x.Clone()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(out.At(i, j)+b.At(0, j), i, j)
		}
	}
	return out
}

func tensorInput(name string, args []any) (*tensor.Tensor, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("nn: %s expects 1 input, got %d", name, len(args))
	}
	x, ok := args[0].(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("nn: %s input is %T, want tensor", name, args[0])
	}
	return x, nil
}
