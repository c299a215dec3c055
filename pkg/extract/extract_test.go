package extract

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/nn"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// buildHost constructs x -> linear1 -> relu1 and returns the module and
// the two chain nodes.
func buildHost(t *testing.T) (*graph.GraphModule, *graph.Node, *graph.Node) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	gm := graph.NewGraphModule()
	if err := gm.SetAttr("linear1", nn.NewLinear(rng, 4, 3)); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	if err := gm.SetAttr("relu1", &nn.ReLU{}); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}

	g := gm.Graph()
	x, err := g.Placeholder("x")
	if err != nil {
		t.Fatalf("Placeholder failed: %v", err)
	}
	lin := g.CallModule("linear1", []any{x}, nil)
	rel := g.CallModule("relu1", []any{lin}, nil)
	g.SetOutput(rel)

	if err := gm.Recompile(); err != nil {
		t.Fatalf("Recompile failed: %v", err)
	}
	return gm, lin, rel
}

func TestSubgraphRoundTrip(t *testing.T) {
	host, lin, rel := buildHost(t)

	unit, err := Subgraph(host, lin, rel)
	if err != nil {
		t.Fatalf("Subgraph failed: %v", err)
	}
	if got := unit.NumInputs(); got != 1 {
		t.Fatalf("Expected 1 input, got %d", got)
	}

	rng := rand.New(rand.NewSource(11))
	x := tensor.Rand(rng, 2, 4)

	want, err := host.Run(x)
	if err != nil {
		t.Fatalf("Host run failed: %v", err)
	}
	got, err := unit.Run(x)
	if err != nil {
		t.Fatalf("Unit run failed: %v", err)
	}
	if !tensor.Equal(want.(*tensor.Tensor), got.(*tensor.Tensor), 1e-12) {
		t.Error("Extracted unit output differs from host chain output")
	}
}

func TestSubgraphClonesModuleState(t *testing.T) {
	host, lin, rel := buildHost(t)

	unit, err := Subgraph(host, lin, rel)
	if err != nil {
		t.Fatalf("Subgraph failed: %v", err)
	}

	rng := rand.New(rand.NewSource(13))
	x := tensor.Rand(rng, 2, 4)
	before, err := unit.Run(x)
	if err != nil {
		t.Fatalf("Unit run failed: %v", err)
	}

	// Corrupting the host layer's weights must not leak into the unit.
	v, _ := host.Attr("linear1")
	w := v.(*nn.Linear).W.Data()
	for i := range w {
		w[i] = 0
	}

	after, err := unit.Run(x)
	if err != nil {
		t.Fatalf("Unit run failed: %v", err)
	}
	if !tensor.Equal(before.(*tensor.Tensor), after.(*tensor.Tensor), 0) {
		t.Error("Unit output changed after mutating the host's module state")
	}
}

func TestSubgraphDuplicateInputsCollapse(t *testing.T) {
	gm := graph.NewGraphModule()
	g := gm.Graph()
	x, err := g.Placeholder("x")
	if err != nil {
		t.Fatalf("Placeholder failed: %v", err)
	}
	sum := g.CallFunction("add", []any{x, x}, nil)
	g.SetOutput(sum)
	if err := gm.Recompile(); err != nil {
		t.Fatalf("Recompile failed: %v", err)
	}

	unit, err := Subgraph(gm, sum, sum)
	if err != nil {
		t.Fatalf("Subgraph failed: %v", err)
	}
	if got := unit.NumInputs(); got != 1 {
		t.Fatalf("Expected repeated argument to collapse to 1 input, got %d", got)
	}

	in := tensor.FromSlice([]float64{1, 2, 3}, 1, 3)
	out, err := unit.Run(in)
	if err != nil {
		t.Fatalf("Unit run failed: %v", err)
	}
	want := tensor.FromSlice([]float64{2, 4, 6}, 1, 3)
	if !tensor.Equal(want, out.(*tensor.Tensor), 1e-12) {
		t.Errorf("Expected x+x, got %v", out)
	}
}

func TestSubgraphParameterArg(t *testing.T) {
	graph.RegisterFunction("scale_w", func(args ...any) (any, error) {
		x := args[0].(*tensor.Tensor)
		w, ok := args[1].(*tensor.Tensor)
		if !ok {
			return nil, fmt.Errorf("scale_w weight is %T, want tensor", args[1])
		}
		return tensor.Mul(x, w), nil
	})

	w := tensor.NewParameter(tensor.FromSlice([]float64{2, 3, 4}, 1, 3))

	gm := graph.NewGraphModule()
	g := gm.Graph()
	x, err := g.Placeholder("x")
	if err != nil {
		t.Fatalf("Placeholder failed: %v", err)
	}
	rel := g.CallFunction("relu", []any{x}, nil)
	scaled := g.CallFunction("scale_w", []any{rel, w}, nil)
	g.SetOutput(scaled)
	if err := gm.Recompile(); err != nil {
		t.Fatalf("Recompile failed: %v", err)
	}

	unit, err := Subgraph(gm, rel, scaled)
	if err != nil {
		t.Fatalf("Subgraph failed: %v", err)
	}

	// The detached copy rides along as a defaulted input, so only the
	// chain input remains in the signature.
	if got := unit.NumInputs(); got != 1 {
		t.Fatalf("Expected 1 external input, got %d", got)
	}

	in := tensor.FromSlice([]float64{1, -1, 2}, 1, 3)
	out, err := unit.Run(in)
	if err != nil {
		t.Fatalf("Unit run failed: %v", err)
	}
	want := tensor.FromSlice([]float64{2, 0, 8}, 1, 3)
	if !tensor.Equal(want, out.(*tensor.Tensor), 1e-12) {
		t.Errorf("Expected relu then scale, got %v", out)
	}

	// The unit owns its copy of the weights.
	w.Data()[0] = 100
	out, err = unit.Run(in)
	if err != nil {
		t.Fatalf("Unit run failed: %v", err)
	}
	if !tensor.Equal(want, out.(*tensor.Tensor), 1e-12) {
		t.Error("Unit output changed after mutating the source parameter")
	}
}

func TestSubgraphKwargPlaceholderOrder(t *testing.T) {
	graph.RegisterFunction("blend", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("blend expects (fast, slow), got %d args", len(args))
		}
		fast := args[0].(*tensor.Tensor)
		slow := args[1].(*tensor.Tensor)
		return tensor.Add(fast, tensor.Add(slow, slow)), nil
	})

	// fast + 2*slow is order-sensitive: a swapped placeholder seeding
	// would change the unit's value, not just its signature. Repeated
	// trials catch any dependence on map iteration order.
	leftVal := tensor.FromSlice([]float64{10, 20}, 2)
	rightVal := tensor.FromSlice([]float64{1, 2}, 2)
	want := tensor.FromSlice([]float64{12, 24}, 2)

	for trial := 0; trial < 16; trial++ {
		gm := graph.NewGraphModule()
		g := gm.Graph()
		left, err := g.Placeholder("left")
		if err != nil {
			t.Fatalf("Placeholder failed: %v", err)
		}
		right, err := g.Placeholder("right")
		if err != nil {
			t.Fatalf("Placeholder failed: %v", err)
		}
		mix := g.CallFunction("blend", nil, map[string]any{"slow": right, "fast": left})
		g.SetOutput(mix)
		if err := gm.Recompile(); err != nil {
			t.Fatalf("Recompile failed: %v", err)
		}

		unit, err := Subgraph(gm, mix, mix)
		if err != nil {
			t.Fatalf("Trial %d: Subgraph failed: %v", trial, err)
		}

		phs := unit.Placeholders()
		if len(phs) != 2 || phs[0].Name != "left_0" || phs[1].Name != "right_0" {
			names := make([]string, len(phs))
			for i, p := range phs {
				names[i] = p.Name
			}
			t.Fatalf("Trial %d: expected placeholders [left_0 right_0], got %v", trial, names)
		}

		out, err := unit.Run(leftVal, rightVal)
		if err != nil {
			t.Fatalf("Trial %d: unit run failed: %v", trial, err)
		}
		if !tensor.Equal(out.(*tensor.Tensor), want, 1e-12) {
			t.Fatalf("Trial %d: expected %v, got %v", trial, want.Data(), out.(*tensor.Tensor).Data())
		}
	}
}

func TestSubgraphErrors(t *testing.T) {
	t.Run("binary op past first node", func(t *testing.T) {
		gm := graph.NewGraphModule()
		g := gm.Graph()
		x, _ := g.Placeholder("x")
		y, _ := g.Placeholder("y")
		rel := g.CallFunction("relu", []any{x}, nil)
		sum := g.CallFunction("add", []any{rel, y}, nil)
		g.SetOutput(sum)

		_, err := Subgraph(gm, rel, sum)
		if !errors.Is(err, ErrBinaryPastFirst) {
			t.Fatalf("Expected ErrBinaryPastFirst, got %v", err)
		}
	})

	t.Run("mid-chain fan-out", func(t *testing.T) {
		gm := graph.NewGraphModule()
		g := gm.Graph()
		x, _ := g.Placeholder("x")
		a := g.CallFunction("relu", []any{x}, nil)
		b := g.CallFunction("relu", []any{a}, nil)
		c := g.CallFunction("add", []any{a, b}, nil)
		g.SetOutput(c)

		_, err := Subgraph(gm, a, b)
		if !errors.Is(err, ErrFanOut) {
			t.Fatalf("Expected ErrFanOut, got %v", err)
		}
	})

	t.Run("unsupported op kind", func(t *testing.T) {
		gm := graph.NewGraphModule()
		g := gm.Graph()
		attr := g.GetAttr("w")
		g.SetOutput(attr)

		_, err := Subgraph(gm, attr, attr)
		if !errors.Is(err, ErrUnsupportedOp) {
			t.Fatalf("Expected ErrUnsupportedOp, got %v", err)
		}
	})

	t.Run("unsupported mid-chain argument", func(t *testing.T) {
		gm := graph.NewGraphModule()
		g := gm.Graph()
		x, _ := g.Placeholder("x")
		rel := g.CallFunction("relu", []any{x}, nil)
		bad := g.CallFunction("mystery", []any{rel, "nope"}, nil)
		g.SetOutput(bad)

		_, err := Subgraph(gm, rel, bad)
		if !errors.Is(err, ErrUnsupportedArg) {
			t.Fatalf("Expected ErrUnsupportedArg, got %v", err)
		}
	})

	t.Run("iteration limit", func(t *testing.T) {
		gm := graph.NewGraphModule()
		g := gm.Graph()
		x, _ := g.Placeholder("x")
		first := g.CallFunction("relu", []any{x}, nil)
		cur := first
		for i := 0; i < IterationLimit+1; i++ {
			cur = g.CallFunction("relu", []any{cur}, nil)
		}
		g.SetOutput(cur)

		_, err := Subgraph(gm, first, cur)
		if !errors.Is(err, ErrIterationLimit) {
			t.Fatalf("Expected ErrIterationLimit, got %v", err)
		}
	})
}
