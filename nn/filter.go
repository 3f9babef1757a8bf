package nn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

// MaxwellDemonFilter is one message passing layer: project, attend, gate
// the attention with the energy differential, aggregate, then feed forward
type MaxwellDemonFilter struct {
	dim        int
	fc         *Linear
	attention  *AttentionScorer
	gate       *EnergyGate // nil when filtering is disabled
	aggregator *MessageAggregator
	ffn        *FeedForwardModule
}

// NewMaxwellDemonFilter creates a filter layer of width dim
func NewMaxwellDemonFilter(dim int, opts layers.FilterOptions, rng *rand.Rand) (*MaxwellDemonFilter, error) {
	if err := opts.Validate(dim); err != nil {
		return nil, err
	}

	fc, err := NewLinear(dim, dim, true, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create fc: %w", err)
	}
	attention, err := NewAttentionScorer(dim, opts.NumHeads, rng)
	if err != nil {
		return nil, err
	}

	var gate *EnergyGate
	if opts.UseFilters {
		if gate, err = NewEnergyGate(dim, opts.NumHeads, opts.ChaosInit, rng); err != nil {
			return nil, err
		}
	}

	aggregator, err := NewMessageAggregator(opts.Aggregation, opts.NumHeads)
	if err != nil {
		return nil, err
	}
	ffn, err := NewFeedForwardModule(dim, aggregator.OutputMultiplier(), opts.HiddenDimMultiplier, opts.Dropout, rng)
	if err != nil {
		return nil, err
	}
	if ffn.InputSize() != aggregator.OutputMultiplier()*dim {
		return nil, fmt.Errorf("%w: aggregator emits %d features but feed-forward expects %d", layers.ErrDimension, aggregator.OutputMultiplier()*dim, ffn.InputSize())
	}

	return &MaxwellDemonFilter{
		dim:        dim,
		fc:         fc,
		attention:  attention,
		gate:       gate,
		aggregator: aggregator,
		ffn:        ffn,
	}, nil
}

// UsesFilters reports whether the energy gate is active
func (f *MaxwellDemonFilter) UsesFilters() bool { return f.gate != nil }

// Forward maps [N, D] node features to [N, D]
func (f *MaxwellDemonFilter) Forward(p *Pass, g *graph.Graph, input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkGraphInput("MaxwellDemonFilter", g, input, f.dim); err != nil {
		return nil, err
	}

	x, err := f.fc.Forward(p, input)
	if err != nil {
		return nil, fmt.Errorf("fc: %w", err)
	}

	probs, err := f.attention.Forward(p, g, x)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}

	if f.gate != nil {
		gate, err := f.gate.Forward(p, g, x)
		if err != nil {
			return nil, fmt.Errorf("energy gate: %w", err)
		}
		if probs, err = tensor.Mul(probs, gate); err != nil {
			return nil, err
		}
	}

	combined, err := f.aggregator.Aggregate(g, x, probs)
	if err != nil {
		return nil, fmt.Errorf("aggregation: %w", err)
	}

	return f.ffn.Forward(p, combined)
}

// NamedParameters returns every learned tensor of the layer
func (f *MaxwellDemonFilter) NamedParameters() []NamedTensor {
	params := withPrefix("fc.", f.fc.NamedParameters())
	params = append(params, f.attention.NamedParameters()...)
	if f.gate != nil {
		params = append(params, f.gate.NamedParameters()...)
	}
	return append(params, withPrefix("ffn.", f.ffn.NamedParameters())...)
}

// Parameters returns all trainable parameters
func (f *MaxwellDemonFilter) Parameters() []*tensor.Tensor {
	return tensorsOf(f.NamedParameters())
}

// ResidualWrapper normalizes its input and hands it to the wrapped layer.
// The layer output is returned as is; the input is not added back.
type ResidualWrapper struct {
	norm  Module
	layer GraphModule
}

// NewResidualWrapper wraps layer with a normalization over dim features
func NewResidualWrapper(kind layers.NormalizationKind, dim int, layer GraphModule) (*ResidualWrapper, error) {
	if layer == nil {
		return nil, fmt.Errorf("%w: residual wrapper requires a layer", layers.ErrConfiguration)
	}
	norm, err := NewNormalization(kind, dim)
	if err != nil {
		return nil, err
	}
	return &ResidualWrapper{norm: norm, layer: layer}, nil
}

// Forward performs normalize-then-layer
func (r *ResidualWrapper) Forward(p *Pass, g *graph.Graph, input *tensor.Tensor) (*tensor.Tensor, error) {
	normalized, err := r.norm.Forward(p, input)
	if err != nil {
		return nil, fmt.Errorf("normalization: %w", err)
	}
	return r.layer.Forward(p, g, normalized)
}

// NamedParameters returns norm.* followed by layer.*
func (r *ResidualWrapper) NamedParameters() []NamedTensor {
	params := withPrefix("norm.", r.norm.NamedParameters())
	return append(params, withPrefix("layer.", r.layer.NamedParameters())...)
}

// Parameters returns all trainable parameters
func (r *ResidualWrapper) Parameters() []*tensor.Tensor {
	return tensorsOf(r.NamedParameters())
}
