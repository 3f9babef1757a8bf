package nn

import (
	"fmt"
	"math"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

// MessageAggregator combines node features with their neighbors' features.
// Feature f of a node belongs to head f mod H, so attention probabilities
// of head h weight exactly those features.
type MessageAggregator struct {
	mode       layers.AggregationMode
	heads      int
	multiplier int
}

// NewMessageAggregator creates an aggregator for the given mode
func NewMessageAggregator(mode layers.AggregationMode, heads int) (*MessageAggregator, error) {
	multiplier, err := mode.InputMultiplier()
	if err != nil {
		return nil, err
	}
	if heads <= 0 {
		return nil, fmt.Errorf("%w: num_heads must be positive, got %d", layers.ErrConfiguration, heads)
	}
	return &MessageAggregator{mode: mode, heads: heads, multiplier: multiplier}, nil
}

// Mode returns the aggregation mode
func (ma *MessageAggregator) Mode() layers.AggregationMode { return ma.mode }

// OutputMultiplier returns how many width-D blocks Aggregate emits
func (ma *MessageAggregator) OutputMultiplier() int { return ma.multiplier }

// Aggregate returns [x, message] in Simple mode and
// [x, message, mean, normalized] in Combined mode, where message is the
// attention weighted sum over incoming edges, mean the plain neighbor mean
// and normalized the sum weighted by 1/sqrt(outdeg(src)*outdeg(dst))
func (ma *MessageAggregator) Aggregate(g *graph.Graph, input, probs *tensor.Tensor) (*tensor.Tensor, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: aggregator requires a graph", graph.ErrInvalidGraph)
	}
	if len(input.Shape) != 2 || input.Shape[1]%ma.heads != 0 {
		return nil, fmt.Errorf("%w: aggregator input %v is not divisible into %d heads", layers.ErrDimension, input.Shape, ma.heads)
	}
	if len(probs.Shape) != 2 || probs.Shape[1] != ma.heads {
		return nil, fmt.Errorf("%w: attention must be [num_edges, %d], got shape %v", layers.ErrDimension, ma.heads, probs.Shape)
	}

	message, err := g.SumReduceIncoming(input, probs)
	if err != nil {
		return nil, fmt.Errorf("attention message: %w", err)
	}
	if ma.mode == layers.AggregationSimple {
		return tensor.Concat(input, message)
	}

	mean, err := g.MeanReduceIncoming(input)
	if err != nil {
		return nil, fmt.Errorf("mean message: %w", err)
	}
	weights, err := symmetricEdgeWeights(g)
	if err != nil {
		return nil, err
	}
	normalized, err := g.SumReduceIncoming(input, weights)
	if err != nil {
		return nil, fmt.Errorf("normalized message: %w", err)
	}
	return tensor.Concat(input, message, mean, normalized)
}

// symmetricEdgeWeights returns 1/sqrt(outdeg(src)*outdeg(dst)) per edge,
// with both degrees clamped to at least 1
func symmetricEdgeWeights(g *graph.Graph) (*tensor.Tensor, error) {
	weights, err := tensor.Zeros([]int{g.NumEdges(), 1})
	if err != nil {
		return nil, err
	}
	for e := range weights.Data {
		src, dst := g.Edge(e)
		ds := max(g.OutDegree(src), 1)
		dd := max(g.OutDegree(dst), 1)
		weights.Data[e] = float32(1 / math.Sqrt(float64(ds)*float64(dd)))
	}
	return weights, nil
}
