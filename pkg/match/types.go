// Package match models raw pattern-match results and reduces them to
// canonical, non-overlapping subgraphs. The matcher reports one entry
// per matched node, so a three-node pattern shows up three times; the
// deduplicator keeps exactly one chronological node list per pattern
// instance.
package match

import "github.com/rmax-ai/nshadows/pkg/graph"

type shapeKind int

const (
	shapeInvalid shapeKind = iota
	shapeSingle
	shapePair
	shapePairThenNode // ((a, b), c)
	shapeNodeThenPair // (c, (a, b))
)

// Shape is the matched-node set of one raw match entry. The matcher
// reports either a single node, an ordered pair, or a pair nested
// inside a pair (a fused two-node group plus one more node, with the
// chronological order left implicit). Modeling the three cases as an
// explicit variant keeps normalization exhaustive.
type Shape struct {
	kind  shapeKind
	nodes [3]*graph.Node
}

// SingleNode describes a one-node match.
func SingleNode(n *graph.Node) Shape {
	return Shape{kind: shapeSingle, nodes: [3]*graph.Node{n}}
}

// NodePair describes a two-node match, given in the matcher's
// reverse-chronological reporting order.
func NodePair(a, b *graph.Node) Shape {
	return Shape{kind: shapePair, nodes: [3]*graph.Node{a, b}}
}

// PairThenNode describes a ((a, b), c) match: a fused pair followed by
// one more node, order unresolved.
func PairThenNode(a, b, c *graph.Node) Shape {
	return Shape{kind: shapePairThenNode, nodes: [3]*graph.Node{a, b, c}}
}

// NodeThenPair describes a (c, (a, b)) match: one node followed by a
// fused pair, order unresolved.
func NodeThenPair(c, a, b *graph.Node) Shape {
	return Shape{kind: shapeNodeThenPair, nodes: [3]*graph.Node{a, b, c}}
}

// AllNodes returns every node in the shape, in reporting order.
func (s Shape) AllNodes() []*graph.Node {
	switch s.kind {
	case shapeSingle:
		return []*graph.Node{s.nodes[0]}
	case shapePair:
		return []*graph.Node{s.nodes[0], s.nodes[1]}
	case shapePairThenNode, shapeNodeThenPair:
		return []*graph.Node{s.nodes[0], s.nodes[1], s.nodes[2]}
	}
	return nil
}

// Result is one raw match entry: the anchor node the matcher reported
// the pattern at, plus the matched shape.
type Result struct {
	Anchor *graph.Node
	Shape  Shape
}

// Results is an insertion-ordered collection of named match entries.
// Order matters: overlap resolution iterates entries in reverse
// insertion order, so the container records it explicitly.
type Results struct {
	names   []string
	entries map[string]Result
}

// NewResults creates an empty match-result collection.
func NewResults() *Results {
	return &Results{entries: make(map[string]Result)}
}

// Add records a match entry under the matched node's name. Re-adding a
// name updates the entry without changing its position.
func (r *Results) Add(name string, res Result) {
	if _, ok := r.entries[name]; !ok {
		r.names = append(r.names, name)
	}
	r.entries[name] = res
}

// Len returns the number of entries.
func (r *Results) Len() int {
	return len(r.names)
}

// Names returns entry names in insertion order.
func (r *Results) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Get returns the entry recorded under name.
func (r *Results) Get(name string) (Result, bool) {
	res, ok := r.entries[name]
	return res, ok
}

// Subgraph is one deduplicated pattern instance: its entry name plus
// its nodes in chronological (execution) order.
type Subgraph struct {
	Name  string
	Nodes []*graph.Node
}

// First returns the chronologically first node.
func (s Subgraph) First() *graph.Node {
	return s.Nodes[0]
}

// Last returns the chronologically last node.
func (s Subgraph) Last() *graph.Node {
	return s.Nodes[len(s.Nodes)-1]
}
