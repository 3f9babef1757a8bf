package nn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

// FeedForwardModule is the pointwise two-layer network applied after message
// aggregation: linear -> dropout -> GELU -> linear -> dropout
type FeedForwardModule struct {
	inputSize int
	linear1   *Linear
	dropout1  *Dropout
	act       *GELU
	linear2   *Linear
	dropout2  *Dropout
}

// NewFeedForwardModule maps inputMultiplier*dim features to dim features
// through a hidden layer of int(dim*hiddenDimMultiplier) units
func NewFeedForwardModule(dim, inputMultiplier int, hiddenDimMultiplier float64, dropout float32, rng *rand.Rand) (*FeedForwardModule, error) {
	if dim <= 0 || inputMultiplier <= 0 {
		return nil, fmt.Errorf("%w: feed-forward width %d x %d must be positive", layers.ErrDimension, inputMultiplier, dim)
	}
	hidden := int(float64(dim) * hiddenDimMultiplier)
	if hidden < 1 {
		return nil, fmt.Errorf("%w: hidden_dim_multiplier %g gives an empty feed-forward layer for width %d", layers.ErrConfiguration, hiddenDimMultiplier, dim)
	}

	linear1, err := NewLinear(inputMultiplier*dim, hidden, true, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create linear_1: %w", err)
	}
	dropout1, err := NewDropout(dropout)
	if err != nil {
		return nil, err
	}
	linear2, err := NewLinear(hidden, dim, true, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create linear_2: %w", err)
	}
	dropout2, err := NewDropout(dropout)
	if err != nil {
		return nil, err
	}

	return &FeedForwardModule{
		inputSize: inputMultiplier * dim,
		linear1:   linear1,
		dropout1:  dropout1,
		act:       NewGELU(),
		linear2:   linear2,
		dropout2:  dropout2,
	}, nil
}

// InputSize returns the expected input width
func (ff *FeedForwardModule) InputSize() int { return ff.inputSize }

// Forward applies the two-layer transform to every node independently
func (ff *FeedForwardModule) Forward(p *Pass, input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 || input.Shape[1] != ff.inputSize {
		return nil, fmt.Errorf("%w: feed-forward expects [num_nodes, %d] input, got shape %v", layers.ErrDimension, ff.inputSize, input.Shape)
	}

	output := input
	var err error
	for i, module := range []Module{ff.linear1, ff.dropout1, ff.act, ff.linear2, ff.dropout2} {
		output, err = module.Forward(p, output)
		if err != nil {
			return nil, fmt.Errorf("feed-forward module %d forward failed: %w", i, err)
		}
	}
	return output, nil
}

// NamedParameters returns the parameters of both linear layers
func (ff *FeedForwardModule) NamedParameters() []NamedTensor {
	params := withPrefix("linear_1.", ff.linear1.NamedParameters())
	return append(params, withPrefix("linear_2.", ff.linear2.NamedParameters())...)
}

// Parameters returns all trainable parameters
func (ff *FeedForwardModule) Parameters() []*tensor.Tensor {
	return tensorsOf(ff.NamedParameters())
}
