package match

import (
	"errors"
	"fmt"

	"github.com/rmax-ai/nshadows/pkg/graph"
)

// ErrUnorderable is returned when a three-node match cannot be arranged
// into a strict first -> middle -> last dependency chain. This is a
// structural-assumption violation, not a recoverable condition.
var ErrUnorderable = errors.New("match: cannot order fused subgraph nodes")

// DedupSubgraphs converts per-node match results into one subgraph per
// pattern instance. Entries are visited in reverse insertion order and
// an entry touching any already-claimed node is skipped whole, so
// later-discovered matches win contested nodes. Do not change this to
// forward order: downstream numeric expectations depend on which
// variant claims a shared node.
func DedupSubgraphs(results *Results) ([]Subgraph, error) {
	seen := make(map[*graph.Node]bool)
	var out []Subgraph

	names := results.Names()
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		res, _ := results.Get(name)

		wasSeen := false
		for _, n := range res.Shape.AllNodes() {
			if seen[n] {
				wasSeen = true
			}
			seen[n] = true
		}
		if wasSeen {
			continue
		}

		nodes, err := normalize(res.Shape)
		if err != nil {
			return nil, fmt.Errorf("match: entry %q: %w", name, err)
		}

		// The normalized list reads newest-first; reverse it into
		// chronological order.
		for l, r := 0, len(nodes)-1; l < r; l, r = l+1, r-1 {
			nodes[l], nodes[r] = nodes[r], nodes[l]
		}
		out = append(out, Subgraph{Name: name, Nodes: nodes})
	}

	return out, nil
}

// normalize reduces a shape to a reverse-chronological node list.
func normalize(s Shape) ([]*graph.Node, error) {
	switch s.kind {
	case shapeSingle:
		return []*graph.Node{s.nodes[0]}, nil
	case shapePair:
		return []*graph.Node{s.nodes[0], s.nodes[1]}, nil
	case shapePairThenNode, shapeNodeThenPair:
		return orderNodes(s.nodes[0], s.nodes[1], s.nodes[2])
	}
	return nil, fmt.Errorf("invalid match shape")
}

// orderNodes arranges three nodes into [last, mid, first] by graph
// dependency: the node whose predecessor lies outside the triple is
// first, the node whose successor lies outside the triple is last.
func orderNodes(a, b, c *graph.Node) ([]*graph.Node, error) {
	nodes := []*graph.Node{a, b, c}
	var first, mid, last *graph.Node

	inTriple := func(n *graph.Node) bool {
		return n == a || n == b || n == c
	}

	for _, n := range nodes {
		prev := firstNodeArg(n)
		next := firstUser(n)
		switch {
		case prev == nil || !inTriple(prev):
			first = n
		case next == nil || !inTriple(next):
			last = n
		default:
			mid = n
		}
	}

	if first == nil || mid == nil || last == nil {
		return nil, ErrUnorderable
	}
	if firstNodeArg(mid) != first || firstNodeArg(last) != mid {
		return nil, fmt.Errorf("%w: %s -> %s -> %s is not a dependency chain",
			ErrUnorderable, first.Name, mid.Name, last.Name)
	}

	return []*graph.Node{last, mid, first}, nil
}

func firstNodeArg(n *graph.Node) *graph.Node {
	if len(n.Args) == 0 {
		return nil
	}
	if dep, ok := n.Args[0].(*graph.Node); ok {
		return dep
	}
	return nil
}

func firstUser(n *graph.Node) *graph.Node {
	users := n.Users()
	if len(users) == 0 {
		return nil
	}
	return users[0]
}
