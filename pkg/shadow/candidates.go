package shadow

import (
	"fmt"
	"log"

	"github.com/rmax-ai/nshadows/pkg/extract"
	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/match"
	"github.com/rmax-ai/nshadows/pkg/tensor"
	"github.com/rmax-ai/nshadows/pkg/trace"
)

// Transform applies a quantization configuration to a candidate unit in
// place. Supplied by the caller; the core treats the config as opaque.
type Transform func(unit *graph.GraphModule, qconfig QConfig) error

// Candidate is one standalone instrumented unit: subgraph i under
// configuration j. Candidate 0 is the unquantized baseline.
type Candidate struct {
	SubgraphIdx  int
	CandidateIdx int
	Name         string
	Unit         *graph.GraphModule
	Logger       *OutputLogger
	Source       match.Subgraph
}

// BuildCandidates extracts every deduplicated subgraph into candidate
// units, one per configuration plus the baseline, each wrapped with a
// disabled comparison logger. A subgraph whose extraction fails is
// skipped with a log line rather than aborting the whole run; a fatal
// signal from extraction means "this subgraph cannot be shadowed".
func BuildCandidates(
	host *graph.GraphModule,
	subgraphs []match.Subgraph,
	qconfigs []QConfig,
	apply Transform,
	compareFn tensor.CompareFn,
	sink Results,
) []Candidate {
	var out []Candidate

	for i, sg := range subgraphs {
		units := make([]Candidate, 0, len(qconfigs)+1)
		ok := true

		for j := 0; j <= len(qconfigs); j++ {
			unit, err := extract.Subgraph(host, sg.First(), sg.Last())
			if err != nil {
				log.Printf("shadow: skipping subgraph %d (%s): %v", i, sg.Name, err)
				extractFailures.Inc()
				ok = false
				break
			}
			subgraphsExtracted.Inc()

			// The baseline is its own reference; it records raw outputs
			// only, so its logger gets no comparison function.
			qconfigStr := ""
			fn := tensor.CompareFn(nil)
			if j > 0 {
				fn = compareFn
				qc := qconfigs[j-1]
				qconfigStr = qc.Tag()
				if apply != nil {
					if err := apply(unit, qc); err != nil {
						log.Printf("shadow: skipping subgraph %d (%s): applying %q: %v", i, sg.Name, qconfigStr, err)
						ok = false
						break
					}
				}
			}

			logger, err := AddLoggerToSubgraphWrapper(unit, i, j, qconfigStr, fn, sink)
			if err != nil {
				log.Printf("shadow: skipping subgraph %d (%s): %v", i, sg.Name, err)
				ok = false
				break
			}

			units = append(units, Candidate{
				SubgraphIdx:  i,
				CandidateIdx: j,
				Name:         WrapperName(i, j),
				Unit:         unit,
				Logger:       logger,
				Source:       sg,
			})
		}

		if ok {
			out = append(out, units...)
			candidatesBuilt.Add(float64(len(units)))
		}
	}

	return out
}

// Calibrate feeds batches through the host model and every candidate
// unit. For each batch it traces the host to capture reference values,
// then runs each candidate with (reference output, subgraph inputs),
// loggers armed, populating the results sink. The host graph is
// read-only throughout.
func Calibrate(host *graph.GraphModule, candidates []Candidate, batches [][]any) error {
	for _, c := range candidates {
		c.Logger.Enabled = true
	}
	defer func() {
		for _, c := range candidates {
			c.Logger.Enabled = false
		}
	}()

	prop := trace.New(host)
	for bi, batch := range batches {
		if err := prop.Propagate(batch...); err != nil {
			return fmt.Errorf("shadow: tracing batch %d: %w", bi, err)
		}

		for _, c := range candidates {
			ref := c.Source.Last().TracedValue
			if ref == nil {
				return fmt.Errorf("shadow: subgraph %d has no traced reference at %q", c.SubgraphIdx, c.Source.Last().Name)
			}

			inputs, err := subgraphInputs(c.Source.First())
			if err != nil {
				return fmt.Errorf("shadow: subgraph %d: %w", c.SubgraphIdx, err)
			}

			if _, err := c.Unit.Run(append([]any{ref}, inputs...)...); err != nil {
				return fmt.Errorf("shadow: running %s on batch %d: %w", c.Name, bi, err)
			}
		}
	}
	return nil
}

// subgraphInputs collects the traced values feeding a subgraph's first
// node, one per distinct Node-valued argument, in argument order. This
// mirrors the placeholder seeding done at extraction time.
func subgraphInputs(first *graph.Node) ([]any, error) {
	var inputs []any
	seen := make(map[string]bool)
	var missing error

	collect := func(dep *graph.Node) {
		if seen[dep.Name] {
			return
		}
		seen[dep.Name] = true
		if dep.TracedValue == nil && missing == nil {
			missing = fmt.Errorf("input %q has no traced value", dep.Name)
			return
		}
		inputs = append(inputs, dep.TracedValue)
	}

	for _, a := range first.Args {
		graph.ForEachNodeArg(a, collect)
	}
	// Sorted kwarg order matches the placeholder seeding done at
	// extraction time.
	for _, k := range graph.SortedKwargKeys(first.Kwargs) {
		graph.ForEachNodeArg(first.Kwargs[k], collect)
	}
	if missing != nil {
		return nil, missing
	}
	return inputs, nil
}
