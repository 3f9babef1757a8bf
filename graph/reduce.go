package graph

import (
	"fmt"
	"math"

	"github.com/tsawler/go-mdgnn/tensor"
)

func (g *Graph) checkNodeSignal(x *tensor.Tensor, name string) error {
	if x == nil || len(x.Shape) == 0 || x.Shape[0] != g.numNodes {
		var shape []int
		if x != nil {
			shape = x.Shape
		}
		return fmt.Errorf("%w: %s must be a node signal with %d rows, got shape %v", ErrInvalidGraph, name, g.numNodes, shape)
	}
	return nil
}

func (g *Graph) checkEdgeSignal(w *tensor.Tensor, name string) error {
	if w == nil || len(w.Shape) == 0 || w.Shape[0] != len(g.src) {
		var shape []int
		if w != nil {
			shape = w.Shape
		}
		return fmt.Errorf("%w: %s must be an edge signal with %d rows, got shape %v", ErrInvalidGraph, name, len(g.src), shape)
	}
	return nil
}

func (g *Graph) gather(x *tensor.Tensor, index []int) (*tensor.Tensor, error) {
	shape := append([]int{len(index)}, x.Shape[1:]...)
	out, err := tensor.Zeros(shape)
	if err != nil {
		return nil, err
	}
	for e, n := range index {
		copy(out.Row(e), x.Row(n))
	}
	return out, nil
}

// GatherSrc returns x[src(e)] for every edge e.
func (g *Graph) GatherSrc(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := g.checkNodeSignal(x, "GatherSrc input"); err != nil {
		return nil, err
	}
	return g.gather(x, g.src)
}

// GatherDst returns x[dst(e)] for every edge e.
func (g *Graph) GatherDst(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := g.checkNodeSignal(x, "GatherDst input"); err != nil {
		return nil, err
	}
	return g.gather(x, g.dst)
}

func (g *Graph) combineEndpoints(u, v *tensor.Tensor, name string, fn func(a, b float32) float32) (*tensor.Tensor, error) {
	if err := g.checkNodeSignal(u, name+" source signal"); err != nil {
		return nil, err
	}
	if err := g.checkNodeSignal(v, name+" destination signal"); err != nil {
		return nil, err
	}
	if u.RowWidth() != v.RowWidth() {
		return nil, fmt.Errorf("%w: %s row widths differ (%d vs %d)", ErrInvalidGraph, name, u.RowWidth(), v.RowWidth())
	}

	shape := append([]int{len(g.src)}, u.Shape[1:]...)
	out, err := tensor.Zeros(shape)
	if err != nil {
		return nil, err
	}
	for e := range g.src {
		a, b, o := u.Row(g.src[e]), v.Row(g.dst[e]), out.Row(e)
		for i := range o {
			o[i] = fn(a[i], b[i])
		}
	}
	return out, nil
}

// BroadcastSum computes u[src(e)] + v[dst(e)] per edge.
func (g *Graph) BroadcastSum(u, v *tensor.Tensor) (*tensor.Tensor, error) {
	return g.combineEndpoints(u, v, "BroadcastSum", func(a, b float32) float32 { return a + b })
}

// ElementwiseProduct computes u[src(e)] * v[dst(e)] per edge.
func (g *Graph) ElementwiseProduct(u, v *tensor.Tensor) (*tensor.Tensor, error) {
	return g.combineEndpoints(u, v, "ElementwiseProduct", func(a, b float32) float32 { return a * b })
}

// MeanReduceIncoming averages x[src(e)] over the edges entering each node.
// Nodes without incoming edges get a zero row.
func (g *Graph) MeanReduceIncoming(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := g.checkNodeSignal(x, "MeanReduceIncoming input"); err != nil {
		return nil, err
	}

	out, err := tensor.Zeros(x.Shape)
	if err != nil {
		return nil, err
	}
	for v := 0; v < g.numNodes; v++ {
		edges := g.IncomingEdges(v)
		if len(edges) == 0 {
			continue
		}
		o := out.Row(v)
		for _, e := range edges {
			for i, val := range x.Row(g.src[e]) {
				o[i] += val
			}
		}
		inv := 1 / float32(len(edges))
		for i := range o {
			o[i] *= inv
		}
	}
	return out, nil
}

// SumReduceIncoming computes, for every node v and row element f,
// sum over edges e entering v of x[src(e), f] * w[e, f mod K], where K is the
// row width of w. K == 1 weights whole rows by a scalar; K == H weights each
// head of a [N, R, H] node signal independently.
func (g *Graph) SumReduceIncoming(x, w *tensor.Tensor) (*tensor.Tensor, error) {
	if err := g.checkNodeSignal(x, "SumReduceIncoming input"); err != nil {
		return nil, err
	}
	if err := g.checkEdgeSignal(w, "SumReduceIncoming weight"); err != nil {
		return nil, err
	}

	k := w.RowWidth()
	if k == 0 || x.RowWidth()%k != 0 {
		return nil, fmt.Errorf("%w: edge weight width %d does not divide node row width %d", ErrInvalidGraph, k, x.RowWidth())
	}

	out, err := tensor.Zeros(x.Shape)
	if err != nil {
		return nil, err
	}
	for v := 0; v < g.numNodes; v++ {
		o := out.Row(v)
		for _, e := range g.IncomingEdges(v) {
			weights := w.Row(e)
			for i, val := range x.Row(g.src[e]) {
				o[i] += val * weights[i%k]
			}
		}
	}
	return out, nil
}

// EdgeSoftmax normalizes [E, K] logits column-wise over the edges sharing a
// destination. Each destination's incoming probabilities sum to 1 per column.
func (g *Graph) EdgeSoftmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if err := g.checkEdgeSignal(logits, "EdgeSoftmax logits"); err != nil {
		return nil, err
	}
	if idx := logits.FirstNonFinite(); idx >= 0 {
		return nil, fmt.Errorf("%w: attention logit %d is %f", ErrNumericalDegeneracy, idx, logits.Data[idx])
	}

	k := logits.RowWidth()
	out, err := tensor.Zeros(logits.Shape)
	if err != nil {
		return nil, err
	}

	maxVals := make([]float64, k)
	sums := make([]float64, k)
	for v := 0; v < g.numNodes; v++ {
		edges := g.IncomingEdges(v)
		if len(edges) == 0 {
			continue
		}

		for h := range maxVals {
			maxVals[h] = math.Inf(-1)
			sums[h] = 0
		}
		for _, e := range edges {
			for h, l := range logits.Row(e) {
				maxVals[h] = math.Max(maxVals[h], float64(l))
			}
		}
		for _, e := range edges {
			o := out.Row(e)
			for h, l := range logits.Row(e) {
				ex := math.Exp(float64(l) - maxVals[h])
				o[h] = float32(ex)
				sums[h] += ex
			}
		}
		for _, e := range edges {
			o := out.Row(e)
			for h := range o {
				o[h] = float32(float64(o[h]) / sums[h])
			}
		}
	}
	return out, nil
}
