package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/nshadows/pkg/shadow"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

func newTestStore(t *testing.T) *ResultsStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewResultsStore(client)
}

func sampleResults() shadow.Results {
	sink := shadow.NewResults()

	rec := sink.Bucket("model", shadow.ResultKindNodeOutput, "subgraph_0_1")
	rec.RefNodeName = "relu_0"
	rec.QConfigStr = "int8-sym"
	rec.ComparisonFnName = "sqnr"
	rec.Values = []*tensor.Tensor{tensor.FromSlice([]float64{1, 2, 3, 4}, 2, 2)}
	rec.Comparisons = []*tensor.Tensor{tensor.Scalar(42.5)}

	base := sink.Bucket("model", shadow.ResultKindNodeOutput, "subgraph_0_0")
	base.RefNodeName = "relu_0"
	base.Values = []*tensor.Tensor{tensor.Scalar(1)}
	base.Comparisons = []*tensor.Tensor{tensor.Scalar(0)}

	return sink
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveResults(ctx, sampleResults()); err != nil {
		t.Fatalf("SaveResults failed: %v", err)
	}

	loaded, err := s.LoadResults(ctx)
	if err != nil {
		t.Fatalf("LoadResults failed: %v", err)
	}

	keys := loaded["model"][shadow.ResultKindNodeOutput]
	if len(keys) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(keys))
	}

	rec := loaded.Bucket("model", shadow.ResultKindNodeOutput, "subgraph_0_1")
	if rec.RefNodeName != "relu_0" || rec.QConfigStr != "int8-sym" || rec.ComparisonFnName != "sqnr" {
		t.Errorf("Record identity fields did not survive: %+v", rec)
	}
	want := tensor.FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	if len(rec.Values) != 1 || !tensor.Equal(want, rec.Values[0], 0) {
		t.Errorf("Value tensor did not survive: %v", rec.Values)
	}
	if len(rec.Comparisons) != 1 || rec.Comparisons[0].At(0) != 42.5 {
		t.Errorf("Comparison tensor did not survive: %v", rec.Comparisons)
	}
}

func TestMergeAcrossWorkers(t *testing.T) {
	// Two workers sharing one redis: each pushes its own subgraph, the
	// aggregator sees the union.
	s := newTestStore(t)
	ctx := context.Background()

	worker1 := shadow.NewResults()
	r1 := worker1.Bucket("model", shadow.ResultKindNodeOutput, "subgraph_0_0")
	r1.RefNodeName = "relu_0"
	r1.Comparisons = []*tensor.Tensor{tensor.Scalar(1)}

	worker2 := shadow.NewResults()
	r2 := worker2.Bucket("model", shadow.ResultKindNodeOutput, "subgraph_1_0")
	r2.RefNodeName = "linear_2"
	r2.Comparisons = []*tensor.Tensor{tensor.Scalar(2)}

	if err := s.SaveResults(ctx, worker1); err != nil {
		t.Fatalf("First SaveResults failed: %v", err)
	}
	if err := s.SaveResults(ctx, worker2); err != nil {
		t.Fatalf("Second SaveResults failed: %v", err)
	}

	loaded, err := s.LoadResults(ctx)
	if err != nil {
		t.Fatalf("LoadResults failed: %v", err)
	}
	keys := loaded["model"][shadow.ResultKindNodeOutput]
	if len(keys) != 2 {
		t.Fatalf("Expected merged tree with 2 keys, got %d", len(keys))
	}
	if got := loaded.Bucket("model", shadow.ResultKindNodeOutput, "subgraph_1_0").RefNodeName; got != "linear_2" {
		t.Errorf("Expected worker 2's record merged in, got ref node %q", got)
	}
}

func TestLoadEmpty(t *testing.T) {
	s := newTestStore(t)

	loaded, err := s.LoadResults(context.Background())
	if err != nil {
		t.Fatalf("LoadResults failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("Expected empty results, got %d models", len(loaded))
	}
}
