// Package extract clones a contiguous linear subgraph out of a host
// graph module into a standalone executable unit. The unit's inputs are
// exactly the external values flowing into the chain's first node; all
// referenced module state is deep-copied so the unit shares nothing
// mutable with its source.
package extract

import (
	"errors"
	"fmt"

	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// IterationLimit bounds the forward chain walk. It is a safety bound
// against cyclic or malformed chains, not a principled subgraph-size
// limit; exceeding it fails immediately instead of hanging.
const IterationLimit = 100

var (
	// ErrUnsupportedOp is returned for operation kinds outside
	// module-call, function-call and method-call.
	ErrUnsupportedOp = errors.New("extract: unsupported operation kind")

	// ErrUnsupportedArg is returned when a mid-chain argument is
	// neither a learned parameter nor a plain numeric/dtype literal.
	ErrUnsupportedArg = errors.New("extract: unsupported argument type")

	// ErrFanOut is returned when a mid-chain node has more than one
	// consumer; such graphs are not supported yet.
	ErrFanOut = errors.New("extract: node has more than one user")

	// ErrIterationLimit is returned when the chain walk exceeds
	// IterationLimit.
	ErrIterationLimit = errors.New("extract: iteration limit exceeded")

	// ErrBinaryPastFirst is returned when a two-input commutative
	// binary op appears past the first node: the single-predecessor
	// substitution scheme cannot express its second Node argument.
	ErrBinaryPastFirst = errors.New("extract: binary op past first node")
)

// binaryTargets are the commutative two-input ops, matched across both
// conventional call styles (function target and method target).
var binaryTargets = map[string]bool{
	"add": true,
	"mul": true,
}

func isBinaryOp(n *graph.Node) bool {
	return (n.Op == graph.OpCallFunction || n.Op == graph.OpCallMethod) && binaryTargets[n.Target]
}

// namer generates unique placeholder and module-attribute names for one
// extraction call. Naming state is per-call, never process-wide, so
// extractions stay independent and composable.
type namer struct {
	modIdx int
	seen   map[string]bool
}

func newNamer() *namer {
	return &namer{seen: make(map[string]bool)}
}

func (nm *namer) modName() string {
	name := fmt.Sprintf("mod_%d", nm.modIdx)
	nm.modIdx++
	return name
}

func (nm *namer) placeholderName(base string) string {
	for counter := 0; ; counter++ {
		name := fmt.Sprintf("%s_%d", base, counter)
		if !nm.seen[name] {
			nm.seen[name] = true
			return name
		}
	}
}

// Subgraph clones the chain from first to last (inclusive) out of host
// into a new standalone graph module. first and last must be connected
// by a single unbranching chain; every mid-chain node must have exactly
// one consumer.
func Subgraph(host *graph.GraphModule, first, last *graph.Node) (*graph.GraphModule, error) {
	gm := graph.NewGraphModule()
	g := gm.Graph()
	nm := newNamer()

	cur := first
	var curCopy *graph.Node

	iteration := 0
	for {
		var argsCopy []any
		var kwargsCopy map[string]any
		var err error

		if cur == first {
			argsCopy, kwargsCopy, err = copyFirstNodeArgs(g, nm, cur)
		} else {
			argsCopy, kwargsCopy, err = copyChainedNodeArgs(g, gm, nm, cur, curCopy)
		}
		if err != nil {
			return nil, err
		}

		switch cur.Op {
		case graph.OpCallModule:
			mod, merr := host.ModuleByPath(cur.Target)
			if merr != nil {
				return nil, merr
			}
			modName := nm.modName()
			if aerr := gm.SetAttr(modName, mod.Clone()); aerr != nil {
				return nil, aerr
			}
			curCopy = g.CallModule(modName, argsCopy, kwargsCopy)

		case graph.OpCallFunction:
			curCopy = g.CallFunction(cur.Target, argsCopy, kwargsCopy)

		case graph.OpCallMethod:
			curCopy = g.CallMethod(cur.Target, argsCopy, kwargsCopy)

		default:
			return nil, fmt.Errorf("%w: %q on node %q", ErrUnsupportedOp, cur.Op, cur.Name)
		}

		if cur == last {
			break
		}

		if cur.NumUsers() != 1 {
			return nil, fmt.Errorf("%w: %q has %d users", ErrFanOut, cur.Name, cur.NumUsers())
		}
		cur = cur.Users()[0]

		iteration++
		if iteration > IterationLimit {
			return nil, ErrIterationLimit
		}
	}

	g.SetOutput(curCopy)
	if err := gm.Recompile(); err != nil {
		return nil, err
	}
	return gm, nil
}

// copyFirstNodeArgs seeds the new unit's inputs: every Node-valued
// argument of the chain's first node becomes a placeholder, with
// repeated references to the same source collapsing to one input.
func copyFirstNodeArgs(g *graph.Graph, nm *namer, first *graph.Node) ([]any, map[string]any, error) {
	oldToNew := make(map[string]*graph.Node)

	addPlaceholder := func(src *graph.Node) (*graph.Node, error) {
		if p, ok := oldToNew[src.Name]; ok {
			return p, nil
		}
		p, err := g.Placeholder(nm.placeholderName(src.Name))
		if err != nil {
			return nil, err
		}
		oldToNew[src.Name] = p
		return p, nil
	}

	copyValue := func(v any) (any, error) {
		switch arg := v.(type) {
		case *graph.Node:
			return addPlaceholder(arg)
		case []any:
			out := make([]any, len(arg))
			for i, inner := range arg {
				if n, ok := inner.(*graph.Node); ok {
					p, err := addPlaceholder(n)
					if err != nil {
						return nil, err
					}
					out[i] = p
				} else {
					out[i] = inner
				}
			}
			return out, nil
		default:
			return v, nil
		}
	}

	argsCopy := make([]any, len(first.Args))
	for i, a := range first.Args {
		v, err := copyValue(a)
		if err != nil {
			return nil, nil, err
		}
		argsCopy[i] = v
	}

	// Kwarg keys are walked in sorted order so placeholder seeding is
	// deterministic and matches the call-time kwarg ordering.
	var kwargsCopy map[string]any
	if len(first.Kwargs) > 0 {
		kwargsCopy = make(map[string]any, len(first.Kwargs))
		for _, k := range graph.SortedKwargKeys(first.Kwargs) {
			v, err := copyValue(first.Kwargs[k])
			if err != nil {
				return nil, nil, err
			}
			kwargsCopy[k] = v
		}
	}

	return argsCopy, kwargsCopy, nil
}

// copyChainedNodeArgs handles nodes past the first: the single chained
// predecessor value is substituted as the first argument, and every
// additional argument must be a learned parameter (cloned, detached and
// bound to a fresh placeholder) or a plain literal.
func copyChainedNodeArgs(g *graph.Graph, gm *graph.GraphModule, nm *namer, cur, prevCopy *graph.Node) ([]any, map[string]any, error) {
	if isBinaryOp(cur) {
		return nil, nil, fmt.Errorf("%w: %q (%s)", ErrBinaryPastFirst, cur.Name, cur.Target)
	}

	argsCopy := []any{prevCopy}

	for _, arg := range cur.Args[1:] {
		switch v := arg.(type) {
		case *tensor.Parameter:
			cloned := v.Detach()
			modName := nm.modName()
			if err := gm.SetAttr(modName, cloned); err != nil {
				return nil, nil, err
			}
			p, err := g.PlaceholderWithDefault(modName, cloned)
			if err != nil {
				return nil, nil, err
			}
			argsCopy = append(argsCopy, p)
		case float64, int, tensor.Dtype:
			argsCopy = append(argsCopy, v)
		default:
			return nil, nil, fmt.Errorf("%w: %T on node %q", ErrUnsupportedArg, arg, cur.Name)
		}
	}

	var kwargsCopy map[string]any
	if len(cur.Kwargs) > 0 {
		kwargsCopy = make(map[string]any, len(cur.Kwargs))
		for _, k := range graph.SortedKwargKeys(cur.Kwargs) {
			arg := cur.Kwargs[k]
			switch v := arg.(type) {
			case float64, int, tensor.Dtype:
				kwargsCopy[k] = v
			default:
				return nil, nil, fmt.Errorf("%w: kwarg %q is %T on node %q", ErrUnsupportedArg, k, arg, cur.Name)
			}
		}
	}

	return argsCopy, kwargsCopy, nil
}
