// Package trace runs a single concrete forward pass over a graph
// module and records each node's tensor output on the node itself, so
// later stages can use real intermediate values as references.
package trace

import (
	"fmt"

	"github.com/rmax-ai/nshadows/pkg/graph"
	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// OutputProp propagates concrete outputs through a graph module
// (modeled on the classic shape-propagation interpreter pattern).
type OutputProp struct {
	mod *graph.GraphModule
}

// New creates an output propagator for the given module.
func New(mod *graph.GraphModule) *OutputProp {
	return &OutputProp{mod: mod}
}

// Propagate executes every node exactly once in graph order with the
// given inputs. Any node whose result is a tensor gets that tensor
// stored as its TracedValue. The name-to-value environment is local to
// this call and discarded on return.
func (p *OutputProp) Propagate(args ...any) error {
	if got, want := len(args), p.mod.NumInputs(); got != want {
		return fmt.Errorf("trace: expected %d inputs, got %d", want, got)
	}

	env := make(map[string]any)
	argIdx := 0

	loadArg := func(a any) (any, error) {
		var missing error
		v := graph.MapArg(a, func(dep *graph.Node) any {
			val, ok := env[dep.Name]
			if !ok && missing == nil {
				missing = fmt.Errorf("trace: node %q used before evaluation", dep.Name)
			}
			return val
		})
		return v, missing
	}
	// Kwarg values join the call after the positional arguments, in
	// ascending key order, matching graph execution.
	loadArgs := func(node *graph.Node) ([]any, error) {
		out := make([]any, 0, len(node.Args)+len(node.Kwargs))
		for _, a := range node.Args {
			v, err := loadArg(a)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		for _, k := range graph.SortedKwargKeys(node.Kwargs) {
			v, err := loadArg(node.Kwargs[k])
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	for _, node := range p.mod.Graph().Nodes() {
		var result any
		var err error

		switch node.Op {
		case graph.OpPlaceholder:
			if node.HasDefault {
				result = node.Default
			} else {
				result = args[argIdx]
				argIdx++
			}

		case graph.OpGetAttr:
			result, err = p.mod.AttrByPath(node.Target)

		case graph.OpCallFunction:
			var resolved []any
			resolved, err = loadArgs(node)
			if err == nil {
				fn, ok := graph.LookupFunction(node.Target)
				if !ok {
					err = fmt.Errorf("trace: unknown function target %q", node.Target)
				} else {
					result, err = fn(resolved...)
				}
			}

		case graph.OpCallMethod:
			var resolved []any
			resolved, err = loadArgs(node)
			if err == nil {
				if len(resolved) == 0 {
					err = fmt.Errorf("trace: method call %q has no receiver", node.Target)
				} else {
					result, err = graph.CallMethodOn(resolved[0], node.Target, resolved[1:]...)
				}
			}

		case graph.OpCallModule:
			var resolved []any
			resolved, err = loadArgs(node)
			if err == nil {
				var mod graph.Module
				mod, err = p.mod.ModuleByPath(node.Target)
				if err == nil {
					result, err = mod.Forward(resolved...)
				}
			}

		case graph.OpOutput:
			result, err = loadArg(node.Args[0])
		}
		if err != nil {
			return err
		}

		if t, ok := result.(*tensor.Tensor); ok {
			node.TracedValue = t
		}
		env[node.Name] = result
	}

	return nil
}
