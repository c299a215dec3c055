package shadow

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/rmax-ai/nshadows/pkg/extract"
	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/match"
	"github.com/rmax-ai/nshadows/pkg/nn"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

type fakeQC struct{ tag string }

func (f fakeQC) Tag() string { return f.tag }

// buildHost constructs x -> linear1 -> relu1 and returns the module and
// the chain nodes.
func buildHost(t *testing.T) (*graph.GraphModule, *graph.Node, *graph.Node) {
	t.Helper()
	rng := rand.New(rand.NewSource(3))

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

func extractUnit(t *testing.T) *graph.GraphModule {
	t.Helper()
	host, lin, rel := buildHost(t)
	unit, err := extract.Subgraph(host, lin, rel)
	if err != nil {
		t.Fatalf("Subgraph failed: %v", err)
	}
	return unit
}

func TestAddLoggerToSubgraphWrapper(t *testing.T) {
	unit := extractUnit(t)
	if got := unit.NumInputs(); got != 1 {
		t.Fatalf("Expected 1 input before wrapping, got %d", got)
	}

	rng := rand.New(rand.NewSource(5))
	x := tensor.Rand(rng, 2, 4)
	before, err := unit.Run(x)
	if err != nil {
		t.Fatalf("Unit run failed: %v", err)
	}

	sink := NewResults()
	logger, err := AddLoggerToSubgraphWrapper(unit, 0, 1, "int8-sym", tensor.SQNR, sink)
	if err != nil {
		t.Fatalf("AddLoggerToSubgraphWrapper failed: %v", err)
	}

	if logger.Enabled {
		t.Error("Expected logger to start disabled")
	}
	if !unit.HasAttr(AttrName(0, 1)) {
		t.Errorf("Expected logger registered under %q", AttrName(0, 1))
	}
	if got := unit.NumInputs(); got != 2 {
		t.Fatalf("Expected wrapping to add exactly one input, got %d", got)
	}
	if name := unit.Placeholders()[0].Name; name != "shadow_ph" {
		t.Errorf("Expected reference placeholder first in signature, got %q", name)
	}

	// Disabled: pass-through output, nothing recorded.
	ref := tensor.Rand(rng, 2, 3)
	after, err := unit.Run(ref, x)
	if err != nil {
		t.Fatalf("Wrapped run failed: %v", err)
	}
	if !tensor.Equal(before.(*tensor.Tensor), after.(*tensor.Tensor), 1e-12) {
		t.Error("Wrapping changed the unit's output value")
	}
	if len(sink) != 0 {
		t.Fatalf("Expected empty sink while disabled, got %d models", len(sink))
	}

	// Armed: one value and one comparison per invocation.
	logger.Enabled = true
	if _, err := unit.Run(ref, x); err != nil {
		t.Fatalf("Wrapped run failed: %v", err)
	}

	rec := sink.Bucket("model", ResultKindNodeOutput, SubgraphKey(0, 1))
	if len(rec.Values) != 1 || len(rec.Comparisons) != 1 {
		t.Fatalf("Expected 1 value and 1 comparison, got %d and %d", len(rec.Values), len(rec.Comparisons))
	}
	if rec.QConfigStr != "int8-sym" {
		t.Errorf("Expected qconfig tag recorded, got %q", rec.QConfigStr)
	}
	if rec.ComparisonFnName != "sqnr" {
		t.Errorf("Expected comparison fn name sqnr, got %q", rec.ComparisonFnName)
	}
}

func TestAddLoggerDuplicateAttr(t *testing.T) {
	unit := extractUnit(t)
	sink := NewResults()

	if _, err := AddLoggerToSubgraphWrapper(unit, 1, 2, "", tensor.SQNR, sink); err != nil {
		t.Fatalf("First wrap failed: %v", err)
	}
	_, err := AddLoggerToSubgraphWrapper(unit, 1, 2, "", tensor.SQNR, sink)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Expected duplicate-attribute error, got %v", err)
	}
}

func TestBuildCandidates(t *testing.T) {
	host, lin, rel := buildHost(t)
	subgraphs := []match.Subgraph{{Name: lin.Name, Nodes: []*graph.Node{lin, rel}}}
	qconfigs := []QConfig{fakeQC{"int8-sym"}, fakeQC{"int4-sym"}}

	sink := NewResults()
	candidates := BuildCandidates(host, subgraphs, qconfigs, nil, tensor.SQNR, sink)

	if len(candidates) != 3 {
		t.Fatalf("Expected baseline plus 2 candidates, got %d", len(candidates))
	}

	tests := []struct {
		idx  int
		name string
		tag  string
	}{
		{0, "shadow_wrapper_0_0", ""},
		{1, "shadow_wrapper_0_1", "int8-sym"},
		{2, "shadow_wrapper_0_2", "int4-sym"},
	}
	for _, tt := range tests {
		c := candidates[tt.idx]
		if c.Name != tt.name {
			t.Errorf("Candidate %d: expected name %q, got %q", tt.idx, tt.name, c.Name)
		}
		if c.Logger.QConfigStr != tt.tag {
			t.Errorf("Candidate %d: expected qconfig %q, got %q", tt.idx, tt.tag, c.Logger.QConfigStr)
		}
		if c.Logger.Enabled {
			t.Errorf("Candidate %d: expected disabled logger", tt.idx)
		}
		if got := c.Unit.NumInputs(); got != 2 {
			t.Errorf("Candidate %d: expected 2 inputs, got %d", tt.idx, got)
		}
	}

	// The baseline is its own reference, so it carries no comparison fn.
	if candidates[0].Logger.CompareFn != nil {
		t.Error("Expected baseline logger without a comparison function")
	}
	if candidates[1].Logger.CompareFn == nil || candidates[2].Logger.CompareFn == nil {
		t.Error("Expected quantized candidates to carry the comparison function")
	}
}

func TestBuildCandidatesSkipsFailedSubgraph(t *testing.T) {
	// The first subgraph ends in a two-input add past its first node,
	// which extraction rejects; linear2 alone still works.
	rng := rand.New(rand.NewSource(9))
	gm := graph.NewGraphModule()
	if err := gm.SetAttr("linear1", nn.NewLinear(rng, 4, 4)); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	if err := gm.SetAttr("relu1", &nn.ReLU{}); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	if err := gm.SetAttr("linear2", nn.NewLinear(rng, 4, 2)); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}

	g := gm.Graph()
	x, _ := g.Placeholder("x")
	lin1 := g.CallModule("linear1", []any{x}, nil)
	rel := g.CallModule("relu1", []any{lin1}, nil)
	sum := g.CallFunction("add", []any{rel, rel}, nil)
	lin2 := g.CallModule("linear2", []any{sum}, nil)
	g.SetOutput(lin2)
	if err := gm.Recompile(); err != nil {
		t.Fatalf("Recompile failed: %v", err)
	}

	subgraphs := []match.Subgraph{
		{Name: rel.Name, Nodes: []*graph.Node{rel, sum}},
		{Name: lin2.Name, Nodes: []*graph.Node{lin2}},
	}

	sink := NewResults()
	candidates := BuildCandidates(gm, subgraphs, []QConfig{fakeQC{"int8-sym"}}, nil, tensor.SQNR, sink)

	if len(candidates) != 2 {
		t.Fatalf("Expected only the second subgraph's candidates, got %d", len(candidates))
	}
	for _, c := range candidates {
		if c.SubgraphIdx != 1 {
			t.Errorf("Expected candidates from subgraph 1 only, got %d", c.SubgraphIdx)
		}
	}
}

func TestCalibrate(t *testing.T) {
	host, lin, rel := buildHost(t)
	subgraphs := []match.Subgraph{{Name: lin.Name, Nodes: []*graph.Node{lin, rel}}}
	qconfigs := []QConfig{fakeQC{"int8-sym"}}

	sink := NewResults()
	candidates := BuildCandidates(host, subgraphs, qconfigs, nil, tensor.SQNR, sink)
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(candidates))
	}

	rng := rand.New(rand.NewSource(17))
	batches := [][]any{
		{tensor.Rand(rng, 2, 4)},
		{tensor.Rand(rng, 2, 4)},
	}

	if err := Calibrate(host, candidates, batches); err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	// The baseline records raw outputs only; self-comparisons would add
	// nothing but +Inf scores.
	base := sink.Bucket("model", ResultKindNodeOutput, SubgraphKey(0, 0))
	if len(base.Values) != 2 || len(base.Comparisons) != 0 {
		t.Errorf("Baseline: expected 2 values and no comparisons, got %d and %d",
			len(base.Values), len(base.Comparisons))
	}
	if base.ComparisonFnName != "" {
		t.Errorf("Baseline: expected empty comparison fn name, got %q", base.ComparisonFnName)
	}
	if base.RefNodeName == "" {
		t.Error("Baseline: expected reference node name recorded")
	}

	rec := sink.Bucket("model", ResultKindNodeOutput, SubgraphKey(0, 1))
	if len(rec.Values) != 2 || len(rec.Comparisons) != 2 {
		t.Errorf("Candidate 1: expected 2 values and 2 comparisons, got %d and %d",
			len(rec.Values), len(rec.Comparisons))
	}
	if rec.ComparisonFnName != "sqnr" {
		t.Errorf("Candidate 1: expected comparison fn name sqnr, got %q", rec.ComparisonFnName)
	}
	if rec.RefNodeName == "" {
		t.Error("Candidate 1: expected reference node name recorded")
	}

	for _, c := range candidates {
		if c.Logger.Enabled {
			t.Error("Expected loggers disarmed after calibration")
		}
	}
}

func TestCalibrateKwargInputBinding(t *testing.T) {
	graph.RegisterFunction("mix2", func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("mix2 expects (fast, slow), got %d args", len(args))
		}
		fast := args[0].(*tensor.Tensor)
		slow := args[1].(*tensor.Tensor)
		return tensor.Add(fast, tensor.Add(slow, slow)), nil
	})

	// The first node's inputs arrive as kwargs; their traced values must
	// bind to the unit's placeholders in the same sorted-key order the
	// extractor used to seed them.
	gm := graph.NewGraphModule()
	g := gm.Graph()
	x, err := g.Placeholder("x")
	if err != nil {
		t.Fatalf("Placeholder failed: %v", err)
	}
	a := g.CallFunction("relu", []any{x}, nil)
	b := g.CallFunction("mul", []any{x, x}, nil)
	mix := g.CallFunction("mix2", nil, map[string]any{"slow": b, "fast": a})
	g.SetOutput(mix)
	if err := gm.Recompile(); err != nil {
		t.Fatalf("Recompile failed: %v", err)
	}

	subgraphs := []match.Subgraph{{Name: mix.Name, Nodes: []*graph.Node{mix}}}
	sink := NewResults()
	candidates := BuildCandidates(gm, subgraphs, []QConfig{fakeQC{"int8-sym"}}, nil, tensor.SQNR, sink)
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(candidates))
	}

	input := tensor.FromSlice([]float64{-1, 2, -3}, 1, 3)
	if err := Calibrate(gm, candidates, [][]any{{input}}); err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	// relu(x) + 2*x*x; a swapped binding computes x*x + 2*relu(x).
	want := tensor.FromSlice([]float64{2, 10, 18}, 1, 3)
	rec := sink.Bucket("model", ResultKindNodeOutput, SubgraphKey(0, 1))
	if len(rec.Values) != 1 {
		t.Fatalf("Expected 1 recorded value, got %d", len(rec.Values))
	}
	if !tensor.Equal(rec.Values[0], want, 1e-12) {
		t.Errorf("Expected %v, got %v", want.Data(), rec.Values[0].Data())
	}
}
