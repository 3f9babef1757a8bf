// Package graph holds the immutable directed multigraph that node features are
// propagated over, together with the edge-keyed reduction primitives used by
// message passing layers.
//
// Edges are identified by their position in the edge list. Every edge signal
// ([E, K] tensor) is indexed in that order.
package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGraph is returned for malformed topology or signals whose
	// leading dimension does not match the node or edge count.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrNumericalDegeneracy is returned when a normalization step receives
	// non-finite values.
	ErrNumericalDegeneracy = errors.New("numerical degeneracy")
)

// Graph is a directed multigraph over nodes 0..N-1. It is safe for
// concurrent readers.
type Graph struct {
	numNodes int
	src      []int
	dst      []int
	inDeg    []int
	outDeg   []int

	// CSR index by destination: the edges entering v are
	// inEdges[inOffsets[v]:inOffsets[v+1]], in edge-list order.
	inOffsets []int
	inEdges   []int
}

// New builds a graph from parallel source and destination arrays. The arrays
// are copied.
func New(numNodes int, src, dst []int) (*Graph, error) {
	if numNodes < 0 {
		return nil, fmt.Errorf("%w: negative node count %d", ErrInvalidGraph, numNodes)
	}
	if len(src) != len(dst) {
		return nil, fmt.Errorf("%w: %d sources but %d destinations", ErrInvalidGraph, len(src), len(dst))
	}

	g := &Graph{
		numNodes:  numNodes,
		src:       make([]int, len(src)),
		dst:       make([]int, len(dst)),
		inDeg:     make([]int, numNodes),
		outDeg:    make([]int, numNodes),
		inOffsets: make([]int, numNodes+1),
		inEdges:   make([]int, len(src)),
	}
	copy(g.src, src)
	copy(g.dst, dst)

	for e := range g.src {
		u, v := g.src[e], g.dst[e]
		if u < 0 || u >= numNodes || v < 0 || v >= numNodes {
			return nil, fmt.Errorf("%w: edge %d (%d->%d) references a node outside [0, %d)", ErrInvalidGraph, e, u, v, numNodes)
		}
		g.outDeg[u]++
		g.inDeg[v]++
	}

	for v := 0; v < numNodes; v++ {
		g.inOffsets[v+1] = g.inOffsets[v] + g.inDeg[v]
	}
	next := make([]int, numNodes)
	copy(next, g.inOffsets[:numNodes])
	for e, v := range g.dst {
		g.inEdges[next[v]] = e
		next[v]++
	}

	return g, nil
}

// FromEdgeList builds a graph from (src, dst) pairs.
func FromEdgeList(numNodes int, edges [][2]int) (*Graph, error) {
	src := make([]int, len(edges))
	dst := make([]int, len(edges))
	for i, e := range edges {
		src[i], dst[i] = e[0], e[1]
	}
	return New(numNodes, src, dst)
}

func (g *Graph) NumNodes() int { return g.numNodes }

func (g *Graph) NumEdges() int { return len(g.src) }

// Edges returns copies of the source and destination arrays.
func (g *Graph) Edges() (src, dst []int) {
	src = make([]int, len(g.src))
	dst = make([]int, len(g.dst))
	copy(src, g.src)
	copy(dst, g.dst)
	return src, dst
}

// Edge returns the endpoints of edge e.
func (g *Graph) Edge(e int) (src, dst int) {
	return g.src[e], g.dst[e]
}

func (g *Graph) InDegree(v int) int { return g.inDeg[v] }

func (g *Graph) OutDegree(v int) int { return g.outDeg[v] }

// InDegrees returns a copy of the in-degree table.
func (g *Graph) InDegrees() []int {
	out := make([]int, len(g.inDeg))
	copy(out, g.inDeg)
	return out
}

// OutDegrees returns a copy of the out-degree table.
func (g *Graph) OutDegrees() []int {
	out := make([]int, len(g.outDeg))
	copy(out, g.outDeg)
	return out
}

// IncomingEdges returns the ids of the edges entering v. The slice must not
// be modified.
func (g *Graph) IncomingEdges(v int) []int {
	return g.inEdges[g.inOffsets[v]:g.inOffsets[v+1]]
}

// ZeroInDegreeNodes lists nodes that no edge points to.
func (g *Graph) ZeroInDegreeNodes() []int {
	var nodes []int
	for v, d := range g.inDeg {
		if d == 0 {
			nodes = append(nodes, v)
		}
	}
	return nodes
}

func (g *Graph) String() string {
	return fmt.Sprintf("Graph(nodes=%d, edges=%d)", g.numNodes, len(g.src))
}
