package trace

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/nn"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

func buildChain(t *testing.T) (*graph.GraphModule, []*graph.Node) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	gm := graph.NewGraphModule()
	g := gm.Graph()

	x, err := g.Placeholder("x")
	if err != nil {
		t.Fatalf("Placeholder failed: %v", err)
	}
	lin := g.CallModule("linear1", []any{x}, nil)
	act := g.CallModule("relu1", []any{lin}, nil)
	g.SetOutput(act)

	if err := gm.SetAttr("linear1", nn.NewLinear(rng, 3, 2)); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	if err := gm.SetAttr("relu1", &nn.ReLU{}); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	if err := gm.Recompile(); err != nil {
		t.Fatalf("Recompile failed: %v", err)
	}

	return gm, []*graph.Node{x, lin, act}
}

func TestPropagateAnnotatesNodes(t *testing.T) {
	gm, nodes := buildChain(t)

	input := tensor.FromSlice([]float64{1, -2, 3}, 1, 3)
	if err := New(gm).Propagate(input); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}

	for _, n := range nodes {
		if n.TracedValue == nil {
			t.Errorf("Node %q has no traced value", n.Name)
		}
	}

	// The traced output must agree with normal execution.
	out, err := gm.Run(input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !tensor.Equal(nodes[2].TracedValue, out.(*tensor.Tensor), 1e-12) {
		t.Error("Traced value differs from executed output")
	}
}

func TestPropagateDeliversKwargs(t *testing.T) {
	graph.RegisterFunction("traced_scale", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("traced_scale expects (x, w), got %d args", len(args))
		}
		return tensor.Mul(args[0].(*tensor.Tensor), args[1].(*tensor.Tensor)), nil
	})

	gm := graph.NewGraphModule()
	g := gm.Graph()
	x, err := g.Placeholder("x")
	if err != nil {
		t.Fatalf("Placeholder failed: %v", err)
	}
	w, err := g.PlaceholderWithDefault("w", tensor.FromSlice([]float64{2, 3}, 2))
	if err != nil {
		t.Fatalf("PlaceholderWithDefault failed: %v", err)
	}
	scaled := g.CallFunction("traced_scale", []any{x}, map[string]any{"w": w})
	g.SetOutput(scaled)
	if err := gm.Recompile(); err != nil {
		t.Fatalf("Recompile failed: %v", err)
	}

	if err := New(gm).Propagate(tensor.FromSlice([]float64{1, -1}, 2)); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	want := tensor.FromSlice([]float64{2, -3}, 2)
	if scaled.TracedValue == nil || !tensor.Equal(scaled.TracedValue, want, 1e-12) {
		t.Errorf("Expected traced value %v, got %v", want.Data(), scaled.TracedValue)
	}
}

func TestPropagateInputCount(t *testing.T) {
	gm, _ := buildChain(t)
	if err := New(gm).Propagate(); err == nil {
		t.Fatal("Expected error for missing inputs")
	}
}

func TestPropagateMissingAttrTarget(t *testing.T) {
	gm := graph.NewGraphModule()
	g := gm.Graph()
	a := g.GetAttr("block.weight")
	g.SetOutput(a)
	if err := gm.Recompile(); err != nil {
		t.Fatalf("Recompile failed: %v", err)
	}

	err := New(gm).Propagate()
	if err == nil || !strings.Contains(err.Error(), "nonexistent target") {
		t.Fatalf("Expected nonexistent-target error, got %v", err)
	}
}
