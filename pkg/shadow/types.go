// Package shadow wraps extracted subgraph units with comparison
// instrumentation and orchestrates candidate construction and
// calibration. Each candidate unit runs one quantization configuration
// against the shared reference output of its source subgraph.
package shadow

import (
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// ResultKindNodeOutput tags records produced by output loggers.
const ResultKindNodeOutput = "node_output"

// QConfig is an opaque quantization-configuration handle. The core
// never decodes it; only the human-readable tag travels into results.
type QConfig interface {
	Tag() string
}

// Record accumulates one candidate's calibration observations: raw
// output values and their precomputed comparisons against the
// reference, one entry per invocation.
type Record struct {
	RefNodeName      string           `json:"ref_node_name"`
	QConfigStr       string           `json:"qconfig_str"`
	ComparisonFnName string           `json:"comparison_fn_name"`
	Values           []*tensor.Tensor `json:"-"`
	Comparisons      []*tensor.Tensor `json:"-"`
}

// Results is the calibration results tree:
// model tag -> result kind -> subgraph-candidate key -> records.
type Results map[string]map[string]map[string][]*Record

// NewResults creates an empty results tree.
func NewResults() Results {
	return make(Results)
}

// Bucket returns the record list under (model, kind, key), creating
// intermediate levels as needed. The returned record is the single
// per-candidate accumulator; invocations append into its slices.
func (r Results) Bucket(model, kind, key string) *Record {
	kinds, ok := r[model]
	if !ok {
		kinds = make(map[string]map[string][]*Record)
		r[model] = kinds
	}
	keys, ok := kinds[kind]
	if !ok {
		keys = make(map[string][]*Record)
		kinds[kind] = keys
	}
	if len(keys[key]) == 0 {
		keys[key] = []*Record{{}}
	}
	return keys[key][0]
}
