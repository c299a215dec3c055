// nshadows-sim runs the full shadowing pipeline against a small
// synthetic model: match -> dedup -> extract -> instrument -> calibrate
// -> aggregate -> print. Useful for demos and for sanity-checking the
// pipeline without a real model.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/match"
	"github.com/rmax-ai/nshadows/pkg/nn"
	"github.com/rmax-ai/nshadows/pkg/report"
	"github.com/rmax-ai/nshadows/pkg/shadow"
	"github.com/rmax-ai/nshadows/pkg/store"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// qconfig is the simulator's opaque quantization handle: weight bit
// width with a human-readable tag.
type qconfig struct {
	bits int
}

func (q qconfig) Tag() string {
	return fmt.Sprintf("int%d-sym", q.bits)
}

// applyQConfig swaps every Linear module in the unit for a quantized
// variant at the config's bit width.
func applyQConfig(unit *graph.GraphModule, qc shadow.QConfig) error {
	cfg, ok := qc.(qconfig)
	if !ok {
		return fmt.Errorf("unexpected qconfig type %T", qc)
	}
	for _, name := range unit.AttrNames() {
		if v, ok := unit.Attr(name); ok {
			if lin, ok := v.(*nn.Linear); ok {
				if err := unit.ReplaceAttr(name, nn.NewQuantizedLinear(lin, cfg.bits)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func main() {
	var (
		dbPath    string
		batches   int
		batchSize int
		seed      int64
		asCSV     bool
	)

	flag.StringVar(&dbPath, "db", "", "Optional SQLite path to persist calibration results")
	flag.IntVar(&batches, "batches", 8, "Number of calibration batches")
	flag.IntVar(&batchSize, "batch-size", 4, "Rows per calibration batch")
	flag.Int64Var(&seed, "seed", 1, "RNG seed for weights and data")
	flag.BoolVar(&asCSV, "csv", false, "Print the summary as CSV instead of a table")
	flag.Parse()

	rng := rand.New(rand.NewSource(seed))

	host, matches := buildModel(rng)

	subgraphs, err := match.DedupSubgraphs(matches)
	if err != nil {
		log.Fatalf("Failed to deduplicate matches: %v", err)
	}
	log.Printf("Found %d shadowable subgraphs", len(subgraphs))

	qconfigs := []shadow.QConfig{qconfig{bits: 8}, qconfig{bits: 6}, qconfig{bits: 4}}

	sink := shadow.NewResults()
	candidates := shadow.BuildCandidates(host, subgraphs, qconfigs, applyQConfig, tensor.SQNR, sink)
	log.Printf("Built %d candidate units", len(candidates))

	data := make([][]any, batches)
	for i := range data {
		data[i] = []any{tensor.Rand(rng, batchSize, 4)}
	}
	if err := shadow.Calibrate(host, candidates, data); err != nil {
		log.Fatalf("Calibration failed: %v", err)
	}

	if dbPath != "" {
		s, err := store.NewStore(dbPath)
		if err != nil {
			log.Fatalf("Failed to open results store: %v", err)
		}
		defer s.Close()
		if err := s.SaveResults(context.Background(), sink); err != nil {
			log.Fatalf("Failed to persist results: %v", err)
		}
		log.Printf("Results written to %s", dbPath)
	}

	grouped, err := report.GroupResultsBySubgraph(sink)
	if err != nil {
		log.Fatalf("Failed to group results: %v", err)
	}
	cmp, err := report.CreateResultsComparison(grouped)
	if err != nil {
		log.Fatalf("Failed to build comparison: %v", err)
	}
	var formatter report.TableFormatter = report.NewTableFormatter()
	if asCSV {
		formatter = report.NewCSVFormatter()
	}
	report.PrintNShadowsSummary(os.Stdout, cmp, formatter)
}

// buildModel constructs a small linear -> relu -> linear model plus the
// raw match results a pattern matcher would report for it: the fused
// (linear, relu) pair is reported once per node, and the trailing
// linear matches alone.
func buildModel(rng *rand.Rand) (*graph.GraphModule, *match.Results) {
	host := graph.NewGraphModule()
	g := host.Graph()

	x, err := g.Placeholder("x")
	if err != nil {
		log.Fatalf("Failed to build model: %v", err)
	}
	linear1 := g.CallModule("linear1", []any{x}, nil)
	relu1 := g.CallModule("relu1", []any{linear1}, nil)
	linear2 := g.CallModule("linear2", []any{relu1}, nil)
	g.SetOutput(linear2)

	for name, mod := range map[string]graph.Module{
		"linear1": nn.NewLinear(rng, 4, 8),
		"relu1":   &nn.ReLU{},
		"linear2": nn.NewLinear(rng, 8, 4),
	} {
		if err := host.SetAttr(name, mod); err != nil {
			log.Fatalf("Failed to build model: %v", err)
		}
	}
	if err := host.Recompile(); err != nil {
		log.Fatalf("Failed to compile model: %v", err)
	}

	matches := match.NewResults()
	matches.Add(linear1.Name, match.Result{Anchor: relu1, Shape: match.NodePair(relu1, linear1)})
	matches.Add(relu1.Name, match.Result{Anchor: relu1, Shape: match.NodePair(relu1, linear1)})
	matches.Add(linear2.Name, match.Result{Anchor: linear2, Shape: match.SingleNode(linear2)})

	return host, matches
}
