package graph

import (
	"fmt"
)

// Graph holds an ordered sequence of nodes. Order is execution order:
// a node may only reference nodes that appear before it.
//
// Graph is not safe for concurrent mutation.
type Graph struct {
	nodes  []*Node
	byName map[string]*Node
	output *Node

	// insertIdx is the position new nodes are spliced into, or -1 to
	// append. Set temporarily via InsertingBefore/InsertingAfter.
	insertIdx int

	nameCounts map[string]int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		byName:     make(map[string]*Node),
		insertIdx:  -1,
		nameCounts: make(map[string]int),
	}
}

// Nodes returns the graph's nodes in execution order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// NodeByName returns the named node, or nil if absent.
func (g *Graph) NodeByName(name string) *Node {
	return g.byName[name]
}

// OutputNode returns the graph's output node, or nil before SetOutput.
func (g *Graph) OutputNode() *Node {
	return g.output
}

// GenerateName returns a name derived from base that is unique within
// this graph, by appending an increasing counter suffix.
func (g *Graph) GenerateName(base string) string {
	for {
		count := g.nameCounts[base]
		g.nameCounts[base] = count + 1
		candidate := fmt.Sprintf("%s_%d", base, count)
		if _, taken := g.byName[candidate]; !taken {
			return candidate
		}
	}
}

// Placeholder creates a graph input with the given name. Placeholder
// names double as input names, so a duplicate is a fatal naming defect
// rather than something to silently rename.
func (g *Graph) Placeholder(name string) (*Node, error) {
	if _, taken := g.byName[name]; taken {
		return nil, fmt.Errorf("graph: placeholder name %q already in use", name)
	}
	n := &Node{Name: name, Op: OpPlaceholder, Target: name}
	g.insert(n)
	return n, nil
}

// PlaceholderWithDefault creates a placeholder bound to a constant
// value. It does not add to the module's external call signature; the
// bound value is used whenever the module runs.
func (g *Graph) PlaceholderWithDefault(name string, value any) (*Node, error) {
	n, err := g.Placeholder(name)
	if err != nil {
		return nil, err
	}
	n.Default = value
	n.HasDefault = true
	return n, nil
}

// CallFunction creates a node invoking a registered function target.
func (g *Graph) CallFunction(target string, args []any, kwargs map[string]any) *Node {
	return g.newNode(OpCallFunction, target, args, kwargs)
}

// CallMethod creates a node invoking a method on its first argument.
func (g *Graph) CallMethod(target string, args []any, kwargs map[string]any) *Node {
	return g.newNode(OpCallMethod, target, args, kwargs)
}

// CallModule creates a node invoking the module stored under the given
// attribute name on the owning GraphModule.
func (g *Graph) CallModule(target string, args []any, kwargs map[string]any) *Node {
	return g.newNode(OpCallModule, target, args, kwargs)
}

// GetAttr creates a node fetching the attribute at the given dotted
// path on the owning GraphModule.
func (g *Graph) GetAttr(target string) *Node {
	return g.newNode(OpGetAttr, target, nil, nil)
}

// SetOutput declares n's value as the graph output, creating the
// bookkeeping output node. Calling it twice rewires the output to the
// new operand, unlinking the old one and moving the output node back
// to the end of the graph.
func (g *Graph) SetOutput(n *Node) *Node {
	if g.output != nil {
		if prev, ok := g.output.Args[0].(*Node); ok {
			prev.removeUser(g.output)
		}
		g.output.Args = []any{n}
		n.addUser(g.output)
		g.moveToEnd(g.output)
		return g.output
	}
	out := &Node{Name: g.GenerateName("output"), Op: OpOutput, Target: "output", Args: []any{n}}
	n.addUser(out)
	g.insert(out)
	g.output = out
	return out
}

// InsertingBefore moves the insertion point to just before ref and
// returns a restore function. Mirrors the usual pattern:
//
//	restore := g.InsertingBefore(first)
//	ph, err := g.Placeholder("x_ref")
//	restore()
func (g *Graph) InsertingBefore(ref *Node) func() {
	return g.setInsertPoint(g.indexOf(ref))
}

// InsertingAfter moves the insertion point to just after ref and
// returns a restore function.
func (g *Graph) InsertingAfter(ref *Node) func() {
	return g.setInsertPoint(g.indexOf(ref) + 1)
}

func (g *Graph) setInsertPoint(idx int) func() {
	prev := g.insertIdx
	g.insertIdx = idx
	return func() { g.insertIdx = prev }
}

func (g *Graph) moveToEnd(n *Node) {
	idx := g.indexOf(n)
	g.nodes = append(g.nodes[:idx], g.nodes[idx+1:]...)
	g.nodes = append(g.nodes, n)
}

func (g *Graph) indexOf(ref *Node) int {
	for i, n := range g.nodes {
		if n == ref {
			return i
		}
	}
	panic(fmt.Sprintf("graph: node %q is not in this graph", ref.Name))
}

func (g *Graph) newNode(op OpKind, target string, args []any, kwargs map[string]any) *Node {
	n := &Node{
		Name:   g.GenerateName(sanitizeName(target)),
		Op:     op,
		Target: target,
		Args:   args,
		Kwargs: kwargs,
	}
	for _, a := range args {
		ForEachNodeArg(a, func(dep *Node) { dep.addUser(n) })
	}
	for _, a := range kwargs {
		ForEachNodeArg(a, func(dep *Node) { dep.addUser(n) })
	}
	g.insert(n)
	return n
}

func (g *Graph) insert(n *Node) {
	if g.insertIdx < 0 || g.insertIdx >= len(g.nodes) {
		g.nodes = append(g.nodes, n)
	} else {
		g.nodes = append(g.nodes[:g.insertIdx], append([]*Node{n}, g.nodes[g.insertIdx:]...)...)
		g.insertIdx++
	}
	g.byName[n.Name] = n
}

// sanitizeName turns a dotted or otherwise structured target into a
// base suitable for node names.
func sanitizeName(target string) string {
	out := make([]byte, len(target))
	for i := 0; i < len(target); i++ {
		c := target[i]
		if c == '.' || c == '/' {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}
