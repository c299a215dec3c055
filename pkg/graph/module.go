package graph

import (
	"fmt"
	"strings"
)

// Module is an executable unit with learned or fixed behavior, invoked
// by call_module nodes. Forward receives the node's positional
// arguments followed by its kwarg values in ascending key order. Clone
// must return a deep copy sharing no mutable state with the receiver;
// extraction relies on this to keep candidate units independent of
// their source graph.
type Module interface {
	Forward(args ...any) (any, error)
	Clone() Module
}

// AttrProvider is implemented by modules exposing named sub-attributes
// (parameters, submodules) for dotted-path lookup.
type AttrProvider interface {
	Attr(name string) (any, bool)
}

// GraphModule pairs a graph with a named attribute tree (modules,
// parameters, constants) and can execute the graph against concrete
// inputs once recompiled.
type GraphModule struct {
	graph *Graph

	attrs     map[string]any
	attrOrder []string

	placeholders []*Node
	compiled     bool
}

// NewGraphModule creates a graph module around an empty graph.
func NewGraphModule() *GraphModule {
	return &GraphModule{
		graph: NewGraph(),
		attrs: make(map[string]any),
	}
}

// Graph returns the underlying graph for mutation.
func (gm *GraphModule) Graph() *Graph {
	return gm.graph
}

// SetAttr registers a named attribute (module, parameter or constant).
// Attribute names are generated deterministically upstream, so a
// collision indicates a logic defect and is fatal.
func (gm *GraphModule) SetAttr(name string, value any) error {
	if _, taken := gm.attrs[name]; taken {
		return fmt.Errorf("graph: attribute %q already exists", name)
	}
	gm.attrs[name] = value
	gm.attrOrder = append(gm.attrOrder, name)
	return nil
}

// ReplaceAttr swaps an existing attribute's value, e.g. substituting a
// quantized module for its reference counterpart.
func (gm *GraphModule) ReplaceAttr(name string, value any) error {
	if _, ok := gm.attrs[name]; !ok {
		return fmt.Errorf("graph: attribute %q does not exist", name)
	}
	gm.attrs[name] = value
	return nil
}

// Attr returns a registered attribute by name.
func (gm *GraphModule) Attr(name string) (any, bool) {
	v, ok := gm.attrs[name]
	return v, ok
}

// HasAttr reports whether the named attribute exists.
func (gm *GraphModule) HasAttr(name string) bool {
	_, ok := gm.attrs[name]
	return ok
}

// AttrNames returns attribute names in registration order.
func (gm *GraphModule) AttrNames() []string {
	out := make([]string, len(gm.attrOrder))
	copy(out, gm.attrOrder)
	return out
}

// AttrByPath resolves a dotted attribute path against the module tree,
// descending through AttrProvider values. Returns an error naming the
// first atom that fails to resolve.
func (gm *GraphModule) AttrByPath(path string) (any, error) {
	atoms := strings.Split(path, ".")
	var cur any
	cur, ok := gm.attrs[atoms[0]]
	if !ok {
		return nil, fmt.Errorf("graph: node referenced nonexistent target %q", atoms[0])
	}
	for i := 1; i < len(atoms); i++ {
		provider, ok := cur.(AttrProvider)
		if !ok {
			return nil, fmt.Errorf("graph: node referenced nonexistent target %q", strings.Join(atoms[:i+1], "."))
		}
		cur, ok = provider.Attr(atoms[i])
		if !ok {
			return nil, fmt.Errorf("graph: node referenced nonexistent target %q", strings.Join(atoms[:i+1], "."))
		}
	}
	return cur, nil
}

// ModuleByPath resolves a dotted path expecting a Module at the end.
func (gm *GraphModule) ModuleByPath(path string) (Module, error) {
	v, err := gm.AttrByPath(path)
	if err != nil {
		return nil, err
	}
	m, ok := v.(Module)
	if !ok {
		return nil, fmt.Errorf("graph: target %q is not a module", path)
	}
	return m, nil
}

// NumInputs returns the number of external inputs the compiled module
// accepts. Placeholders bound to default constants do not count.
func (gm *GraphModule) NumInputs() int {
	n := 0
	for _, p := range gm.placeholders {
		if !p.HasDefault {
			n++
		}
	}
	return n
}

// Placeholders returns the input nodes in call-signature order.
func (gm *GraphModule) Placeholders() []*Node {
	out := make([]*Node, len(gm.placeholders))
	copy(out, gm.placeholders)
	return out
}

// Recompile validates the graph and freezes the call signature. Must be
// called after any structural mutation and before Run.
func (gm *GraphModule) Recompile() error {
	if gm.graph.output == nil {
		return fmt.Errorf("graph: recompile requires an output node")
	}

	seen := make(map[*Node]bool)
	var placeholders []*Node
	for _, n := range gm.graph.nodes {
		var argErr error
		checkDep := func(dep *Node) {
			if !seen[dep] && argErr == nil {
				argErr = fmt.Errorf("graph: node %q references %q before its definition", n.Name, dep.Name)
			}
		}
		for _, a := range n.Args {
			ForEachNodeArg(a, checkDep)
		}
		for _, a := range n.Kwargs {
			ForEachNodeArg(a, checkDep)
		}
		if argErr != nil {
			return argErr
		}
		if n.Op == OpPlaceholder {
			placeholders = append(placeholders, n)
		}
		seen[n] = true
	}

	gm.placeholders = placeholders
	gm.compiled = true
	return nil
}

// Run executes the graph against concrete inputs and returns the value
// of the output node. Inputs bind to placeholders in graph order.
func (gm *GraphModule) Run(inputs ...any) (any, error) {
	if !gm.compiled {
		return nil, fmt.Errorf("graph: module must be recompiled before running")
	}
	if len(inputs) != gm.NumInputs() {
		return nil, fmt.Errorf("graph: expected %d inputs, got %d", gm.NumInputs(), len(inputs))
	}

	env := make(map[string]any, len(gm.graph.nodes))
	inputIdx := 0

	for _, n := range gm.graph.nodes {
		result, err := gm.evalNode(n, env, inputs, &inputIdx)
		if err != nil {
			return nil, err
		}
		if n.Op == OpOutput {
			return result, nil
		}
		env[n.Name] = result
	}
	return nil, fmt.Errorf("graph: no output node reached")
}

func (gm *GraphModule) evalNode(n *Node, env map[string]any, inputs []any, inputIdx *int) (any, error) {
	var missing error
	resolve := func(a any) any {
		return MapArg(a, func(dep *Node) any {
			v, ok := env[dep.Name]
			if !ok && missing == nil {
				missing = fmt.Errorf("graph: node %q used before evaluation", dep.Name)
			}
			return v
		})
	}
	// Kwarg values join the call after the positional arguments, in
	// ascending key order.
	loadArgs := func() ([]any, error) {
		out := make([]any, 0, len(n.Args)+len(n.Kwargs))
		for _, a := range n.Args {
			out = append(out, resolve(a))
		}
		for _, k := range SortedKwargKeys(n.Kwargs) {
			out = append(out, resolve(n.Kwargs[k]))
		}
		return out, missing
	}

	switch n.Op {
	case OpPlaceholder:
		if n.HasDefault {
			return n.Default, nil
		}
		v := inputs[*inputIdx]
		*inputIdx++
		return v, nil

	case OpGetAttr:
		return gm.AttrByPath(n.Target)

	case OpCallFunction:
		args, err := loadArgs()
		if err != nil {
			return nil, err
		}
		fn, ok := LookupFunction(n.Target)
		if !ok {
			return nil, fmt.Errorf("graph: unknown function target %q", n.Target)
		}
		return fn(args...)

	case OpCallMethod:
		args, err := loadArgs()
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("graph: method call %q has no receiver", n.Target)
		}
		return CallMethodOn(args[0], n.Target, args[1:]...)

	case OpCallModule:
		args, err := loadArgs()
		if err != nil {
			return nil, err
		}
		mod, err := gm.ModuleByPath(n.Target)
		if err != nil {
			return nil, err
		}
		return mod.Forward(args...)

	case OpOutput:
		args, err := loadArgs()
		if err != nil {
			return nil, err
		}
		return args[0], nil
	}

	return nil, fmt.Errorf("graph: unsupported op kind %q on node %q", n.Op, n.Name)
}

// TargetTypeStr resolves a human-readable type string for a node's
// target, e.g. the concrete module type for call_module nodes.
func TargetTypeStr(gm *GraphModule, n *Node) string {
	switch n.Op {
	case OpCallModule:
		if mod, err := gm.ModuleByPath(n.Target); err == nil {
			return fmt.Sprintf("%T", mod)
		}
		return "unknown"
	case OpCallFunction:
		return "function " + n.Target
	case OpCallMethod:
		return "method " + n.Target
	case OpPlaceholder:
		return "placeholder"
	}
	return string(n.Op)
}
