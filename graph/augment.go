package graph

import (
	"fmt"

	"github.com/tsawler/go-mdgnn/tensor"
)

// Guard selects how a dataset's graph is prepared so attention normalization
// is defined for every node.
type Guard int

const (
	// GuardNone leaves the topology untouched. Nodes without incoming edges
	// receive zero messages.
	GuardNone Guard = iota
	// GuardSelfLoops adds a self-loop to every node without incoming edges.
	GuardSelfLoops
	// GuardGlobalNode appends one node, whose features are the column-wise
	// maximum of all node features, with an edge to every original node.
	GuardGlobalNode
)

func (g Guard) String() string {
	switch g {
	case GuardNone:
		return "none"
	case GuardSelfLoops:
		return "self_loops"
	case GuardGlobalNode:
		return "global_node"
	default:
		return "unknown"
	}
}

// ParseGuard maps a configuration name to a Guard.
func ParseGuard(name string) (Guard, error) {
	switch name {
	case "none", "None":
		return GuardNone, nil
	case "self_loops", "":
		return GuardSelfLoops, nil
	case "global_node":
		return GuardGlobalNode, nil
	default:
		return GuardNone, fmt.Errorf("unknown in-degree guard %q (expected none, self_loops or global_node)", name)
	}
}

// Apply prepares g and its node features according to the guard. The
// returned features have one extra row for GuardGlobalNode.
func (guard Guard) Apply(g *Graph, features *tensor.Tensor) (*Graph, *tensor.Tensor, error) {
	switch guard {
	case GuardNone:
		return g, features, nil
	case GuardSelfLoops:
		guarded, err := EnsureMinInDegree(g)
		return guarded, features, err
	case GuardGlobalNode:
		return WithGlobalNode(g, features)
	default:
		return nil, nil, fmt.Errorf("unknown in-degree guard %d", int(guard))
	}
}

// EnsureMinInDegree returns a graph in which every node has at least one
// incoming edge, adding self-loops where needed. g is returned unchanged when
// no node needs one.
func EnsureMinInDegree(g *Graph) (*Graph, error) {
	missing := g.ZeroInDegreeNodes()
	if len(missing) == 0 {
		return g, nil
	}

	src, dst := g.Edges()
	for _, v := range missing {
		src = append(src, v)
		dst = append(dst, v)
	}
	return New(g.numNodes, src, dst)
}

// WithGlobalNode appends a node N connected to every existing node by an
// edge N->v. Its feature row is the column-wise max of features.
func WithGlobalNode(g *Graph, features *tensor.Tensor) (*Graph, *tensor.Tensor, error) {
	if err := g.checkNodeSignal(features, "node features"); err != nil {
		return nil, nil, err
	}
	if g.numNodes == 0 {
		return nil, nil, fmt.Errorf("%w: cannot add a global node to an empty graph", ErrInvalidGraph)
	}

	width := features.RowWidth()
	global := make([]float32, width)
	copy(global, features.Row(0))
	for v := 1; v < g.numNodes; v++ {
		for i, val := range features.Row(v) {
			if val > global[i] {
				global[i] = val
			}
		}
	}

	data := make([]float32, 0, features.NumElems+width)
	data = append(data, features.Data...)
	data = append(data, global...)
	shape := append([]int{g.numNodes + 1}, features.Shape[1:]...)
	augmented, err := tensor.NewTensor(shape, data)
	if err != nil {
		return nil, nil, err
	}

	src, dst := g.Edges()
	hub := g.numNodes
	for v := 0; v < g.numNodes; v++ {
		src = append(src, hub)
		dst = append(dst, v)
	}
	augmentedGraph, err := New(g.numNodes+1, src, dst)
	if err != nil {
		return nil, nil, err
	}

	return augmentedGraph, augmented, nil
}
