// Package report reshapes calibration results into per-subgraph
// candidate comparisons and renders a ranked summary table.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rmax-ai/nshadows/pkg/shadow"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// GroupedCandidate carries one candidate's raw calibration record
// under its subgraph.
type GroupedCandidate struct {
	RefNodeName      string
	Values           []*tensor.Tensor
	QConfigStr       string
	Comparisons      []*tensor.Tensor
	ComparisonFnName string
}

// Grouped maps subgraph key -> candidate index string -> record:
//
//	{"subgraph_0": {"0": {...}, "1": {...}}, ...}
type Grouped map[string]map[string]GroupedCandidate

// GroupResultsBySubgraph regroups the flat per-candidate results under
// their subgraphs. Keys have the shape "subgraph_<i>_<j>" where j=0 is
// the unquantized baseline; every subgraph must end up with its "0"
// baseline present.
func GroupResultsBySubgraph(results shadow.Results) (Grouped, error) {
	grouped := make(Grouped)

	for key, records := range results["model"][shadow.ResultKindNodeOutput] {
		parts := strings.Split(key, "_")
		if len(parts) != 3 {
			return nil, fmt.Errorf("report: malformed results key %q", key)
		}
		subgraphName := parts[0] + "_" + parts[1]
		candidateIdx := parts[2]

		if len(records) == 0 {
			return nil, fmt.Errorf("report: empty record list under %q", key)
		}
		rec := records[0]

		if grouped[subgraphName] == nil {
			grouped[subgraphName] = make(map[string]GroupedCandidate)
		}
		grouped[subgraphName][candidateIdx] = GroupedCandidate{
			RefNodeName:      rec.RefNodeName,
			Values:           rec.Values,
			QConfigStr:       rec.QConfigStr,
			Comparisons:      rec.Comparisons,
			ComparisonFnName: rec.ComparisonFnName,
		}
	}

	for subgraphName, candidates := range grouped {
		if _, ok := candidates["0"]; !ok {
			return nil, fmt.Errorf("report: %s is missing its baseline candidate", subgraphName)
		}
	}
	return grouped, nil
}

// CandidateComparison is one candidate's reduced score.
type CandidateComparison struct {
	QConfigStr       string
	ComparisonFnName string
	CmpRaw           *tensor.Tensor
	CmpMean          float64
}

// SubgraphComparison is the per-subgraph comparison summary. Immutable
// once built.
type SubgraphComparison struct {
	RefNodeName string
	Candidates  map[string]CandidateComparison
}

// CandidateKeys returns candidate index keys in ascending numeric
// order, which is also the column order of the printed summary.
func (s SubgraphComparison) CandidateKeys() []string {
	keys := make([]string, 0, len(s.Candidates))
	for k := range s.Candidates {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i])
		b, _ := strconv.Atoi(keys[j])
		return a < b
	})
	return keys
}

// Comparison maps subgraph key -> summary.
type Comparison map[string]SubgraphComparison

// CreateResultsComparison reduces grouped results to per-candidate mean
// scores. The baseline candidate "0" is skipped (comparing baseline to
// baseline is meaningless); its reference node name labels the
// subgraph.
func CreateResultsComparison(grouped Grouped) (Comparison, error) {
	out := make(Comparison)

	for subgraphName, subgraphResults := range grouped {
		baseline, ok := subgraphResults["0"]
		if !ok {
			return nil, fmt.Errorf("report: %s is missing its baseline candidate", subgraphName)
		}

		candidates := make(map[string]CandidateComparison)
		for candidateIdx, res := range subgraphResults {
			if candidateIdx == "0" {
				continue
			}
			if len(res.Comparisons) == 0 {
				return nil, fmt.Errorf("report: %s candidate %s has no comparisons", subgraphName, candidateIdx)
			}

			// Comparisons are precalculated during calibration; stack
			// and reduce them here.
			cmpRaw := tensor.Stack(res.Comparisons)
			candidates[candidateIdx] = CandidateComparison{
				QConfigStr:       res.QConfigStr,
				ComparisonFnName: res.ComparisonFnName,
				CmpRaw:           cmpRaw,
				CmpMean:          tensor.Mean(cmpRaw),
			}
		}

		out[subgraphName] = SubgraphComparison{
			RefNodeName: baseline.RefNodeName,
			Candidates:  candidates,
		}
	}

	return out, nil
}

// TableFormatter renders a header row plus data rows as a table.
type TableFormatter interface {
	Format(headers []string, rows [][]string) string
}

// PrintNShadowsSummary renders the ranked summary, one row per
// subgraph: key, reference node name, best candidate index, then each
// candidate's mean score in column order. Higher means are better and
// ties keep the earliest candidate; this policy is fixed. A nil
// formatter degrades to a remediation message instead of failing.
func PrintNShadowsSummary(w io.Writer, cmp Comparison, formatter TableFormatter) {
	if formatter == nil {
		fmt.Fprintln(w, "printing the summary requires a table formatter; "+
			"pass report.NewTableFormatter() (or any TableFormatter) to render the table")
		return
	}

	subgraphNames := make([]string, 0, len(cmp))
	for name := range cmp {
		subgraphNames = append(subgraphNames, name)
	}
	sort.Slice(subgraphNames, func(i, j int) bool {
		return subgraphNumber(subgraphNames[i]) < subgraphNumber(subgraphNames[j])
	})

	maxCandidates := 0
	var rows [][]string
	for _, name := range subgraphNames {
		data := cmp[name]

		var means []float64
		for _, key := range data.CandidateKeys() {
			means = append(means, data.Candidates[key].CmpMean)
		}
		if len(means) > maxCandidates {
			maxCandidates = len(means)
		}

		row := []string{name, data.RefNodeName, strconv.Itoa(BestCandidate(means))}
		for _, m := range means {
			row = append(row, strconv.FormatFloat(m, 'f', 4, 64))
		}
		rows = append(rows, row)
	}

	headers := []string{"subgraph_idx", "ref_node_name", "best_idx"}
	for i := 1; i <= maxCandidates; i++ {
		headers = append(headers, strconv.Itoa(i))
	}

	// Pad rows with fewer candidates so every row matches the header
	// width.
	for i, row := range rows {
		for len(row) < len(headers) {
			row = append(row, "")
		}
		rows[i] = row
	}

	fmt.Fprintln(w, formatter.Format(headers, rows))
}

// BestCandidate returns the 1-indexed position of the best mean score,
// or 0 when every score sits below the sentinel floor. Higher is
// better; strict improvement keeps the earliest candidate on exact
// ties. This policy is fixed.
func BestCandidate(means []float64) int {
	bestVal, best := -10000.0, 0
	for idx, val := range means {
		if val > bestVal {
			bestVal = val
			best = idx + 1
		}
	}
	return best
}

func subgraphNumber(name string) int {
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return 0
	}
	n, _ := strconv.Atoi(name[idx+1:])
	return n
}
