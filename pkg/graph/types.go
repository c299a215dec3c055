// Package graph provides the traced-graph representation used for
// accuracy debugging: nodes, mutation primitives, and executable graph
// modules. Subgraph extraction and instrumentation build on these
// primitives; they never reach into node internals directly.
package graph

import (
	"sort"

	"github.com/rmax-ai/nshadows/pkg/tensor"
)

// OpKind represents the semantic kind of a node's operation.
type OpKind string

const (
	OpPlaceholder  OpKind = "placeholder"
	OpGetAttr      OpKind = "get_attr"
	OpCallFunction OpKind = "call_function"
	OpCallMethod   OpKind = "call_method"
	OpCallModule   OpKind = "call_module"
	OpOutput       OpKind = "output"
)

// Node represents one operation in a traced graph. Args and Kwargs hold
// literals (float64, int, tensor.Dtype, *tensor.Parameter), references
// to other Nodes, or nested []any sequences of those.
//
// At call time, Kwargs values are appended after Args in ascending key
// order; execution, tracing and extraction all share that ordering.
type Node struct {
	Name   string
	Op     OpKind
	Target string
	Args   []any
	Kwargs map[string]any

	// TracedValue is the tensor observed at this node during an output
	// trace. It is transient: only trace.Propagate writes it.
	TracedValue *tensor.Tensor

	// Default carries a bound constant for placeholders that do not
	// consume an external input (cloned parameters in extracted
	// units). HasDefault distinguishes a nil default from no default.
	Default    any
	HasDefault bool

	users []*Node
}

// Users returns the nodes consuming this node's output, in the order
// they were recorded.
func (n *Node) Users() []*Node {
	out := make([]*Node, len(n.users))
	copy(out, n.users)
	return out
}

// NumUsers returns the number of consumers of this node.
func (n *Node) NumUsers() int {
	return len(n.users)
}

func (n *Node) addUser(u *Node) {
	for _, existing := range n.users {
		if existing == u {
			return
		}
	}
	n.users = append(n.users, u)
}

func (n *Node) removeUser(u *Node) {
	for i, existing := range n.users {
		if existing == u {
			n.users = append(n.users[:i], n.users[i+1:]...)
			return
		}
	}
}

// SortedKwargKeys returns kwarg keys in ascending order. Go maps have
// no iteration order, so every walk over a node's Kwargs goes through
// this to keep call arguments and placeholder seeding deterministic.
func SortedKwargKeys(kwargs map[string]any) []string {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ForEachNodeArg calls f once for every Node referenced by v, recursing
// through nested sequences.
func ForEachNodeArg(v any, f func(*Node)) {
	switch arg := v.(type) {
	case *Node:
		f(arg)
	case []any:
		for _, inner := range arg {
			ForEachNodeArg(inner, f)
		}
	}
}

// MapArg substitutes every Node referenced by v using f, recursing
// through nested sequences. Non-Node values pass through unchanged.
func MapArg(v any, f func(*Node) any) any {
	switch arg := v.(type) {
	case *Node:
		return f(arg)
	case []any:
		out := make([]any, len(arg))
		for i, inner := range arg {
			out[i] = MapArg(inner, f)
		}
		return out
	default:
		return v
	}
}
