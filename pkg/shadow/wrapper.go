package shadow

import (
	"fmt"

	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

const (
	shadowNodeNamePrefix        = "shadow"
	shadowWrapperNodeNamePrefix = "shadow_wrapper"

	// refPlaceholderName names the injected reference input.
	refPlaceholderName = "shadow_ph"
)

// AttrName returns the deterministic logger attribute name for a
// (subgraph, candidate) pair.
func AttrName(subgraphIdx, candidateIdx int) string {
	return fmt.Sprintf("%s_%d_%d", shadowNodeNamePrefix, subgraphIdx, candidateIdx)
}

// WrapperName returns the deterministic wrapper attribute name for a
// (subgraph, candidate) pair.
func WrapperName(subgraphIdx, candidateIdx int) string {
	return fmt.Sprintf("%s_%d_%d", shadowWrapperNodeNamePrefix, subgraphIdx, candidateIdx)
}

// SubgraphKey returns the composite results key "subgraph_<i>_<j>".
func SubgraphKey(subgraphIdx, candidateIdx int) string {
	return fmt.Sprintf("subgraph_%d_%d", subgraphIdx, candidateIdx)
}

// AddLoggerToSubgraphWrapper instruments a candidate unit that consists
// of one extracted subgraph and nothing else. It attaches a disabled
// comparison logger to the unit's final operation and injects a second
// input placeholder carrying the reference value, growing the unit's
// call signature from one input to two:
//
//	before:  x0 -> mod -> x1
//	after:   x0 -> mod -> x1
//	               /
//	         x0_ref
//
// Returns the logger so the caller can arm it for calibration.
func AddLoggerToSubgraphWrapper(
	unit *graph.GraphModule,
	subgraphIdx, candidateIdx int,
	qconfigStr string,
	compareFn tensor.CompareFn,
	sink Results,
) (*OutputLogger, error) {
	g := unit.Graph()
	nodes := g.Nodes()
	if len(nodes) == 0 || g.OutputNode() == nil {
		return nil, fmt.Errorf("shadow: unit has no compiled body")
	}

	firstNode := nodes[0]
	// The output node is bookkeeping; the true last computational node
	// is its operand.
	lastNode, ok := g.OutputNode().Args[0].(*graph.Node)
	if !ok {
		return nil, fmt.Errorf("shadow: unit output does not feed from a node")
	}

	logger := NewLoggerForSubgraph(unit, firstNode, lastNode, subgraphIdx, candidateIdx, qconfigStr, compareFn, sink)

	attrName := AttrName(subgraphIdx, candidateIdx)
	if unit.HasAttr(attrName) {
		return nil, fmt.Errorf("shadow: logger attribute %q already exists", attrName)
	}
	if err := unit.SetAttr(attrName, logger); err != nil {
		return nil, err
	}

	restore := g.InsertingBefore(firstNode)
	refPh, err := g.Placeholder(refPlaceholderName)
	restore()
	if err != nil {
		return nil, err
	}

	restore = g.InsertingAfter(lastNode)
	g.CallModule(attrName, []any{lastNode, refPh}, nil)
	restore()

	if err := unit.Recompile(); err != nil {
		return nil, err
	}
	return logger, nil
}
