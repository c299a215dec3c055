package shadow

import (
	"fmt"

	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// OutputLogger is the comparison instrumentation attached to a
// candidate unit's final operation. When enabled, each invocation with
// (x, xRef) records x and the comparison score against xRef into the
// results tree, then passes x through unchanged.
type OutputLogger struct {
	RefNodeName        string
	PrevNodeName       string
	ModelName          string
	RefName            string
	PrevNodeTargetType string
	RefNodeTargetType  string
	ResultsType        string
	IndexWithinArg     int
	IndexOfArg         int
	FQN                string // not supported for now
	QConfigStr         string

	// Enabled starts false; calibration arms the logger explicitly.
	Enabled bool

	CompareFn tensor.CompareFn

	sink Results
}

// NewLoggerForSubgraph creates a disabled logger for the end of a
// candidate unit whose body spans firstNode to lastNode.
func NewLoggerForSubgraph(
	model *graph.GraphModule,
	firstNode, lastNode *graph.Node,
	subgraphIdx, candidateIdx int,
	qconfigStr string,
	compareFn tensor.CompareFn,
	sink Results,
) *OutputLogger {
	return &OutputLogger{
		RefNodeName:        firstNode.Name,
		PrevNodeName:       lastNode.Name,
		ModelName:          SubgraphKey(subgraphIdx, candidateIdx),
		RefName:            "model",
		PrevNodeTargetType: graph.TargetTypeStr(model, lastNode),
		RefNodeTargetType:  graph.TargetTypeStr(model, firstNode),
		ResultsType:        ResultKindNodeOutput,
		IndexWithinArg:     0,
		IndexOfArg:         0,
		FQN:                "",
		QConfigStr:         qconfigStr,
		Enabled:            false,
		CompareFn:          compareFn,
		sink:               sink,
	}
}

// Forward records (x, xRef) when enabled and returns x.
func (l *OutputLogger) Forward(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("shadow: logger expects (x, x_ref), got %d args", len(args))
	}
	x, ok := args[0].(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("shadow: logger input is %T, want tensor", args[0])
	}
	if !l.Enabled {
		return x, nil
	}
	xRef, ok := args[1].(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("shadow: logger reference is %T, want tensor", args[1])
	}

	rec := l.sink.Bucket("model", l.ResultsType, l.ModelName)
	rec.RefNodeName = l.RefNodeName
	rec.QConfigStr = l.QConfigStr
	rec.Values = append(rec.Values, x.Clone())
	if l.CompareFn != nil {
		rec.ComparisonFnName = tensor.CompareFnName(l.CompareFn)
		rec.Comparisons = append(rec.Comparisons, l.CompareFn(x, xRef))
		comparisonsRecorded.Inc()
	}
	return x, nil
}

// Clone copies the logger configuration. The clone shares the results
// sink, since records are keyed by model tag.
func (l *OutputLogger) Clone() graph.Module {
	c := *l
	return &c
}
