package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

// Linear implements a fully connected (dense) layer: y = xW^T + b
type Linear struct {
	weight *tensor.Tensor
	bias   *tensor.Tensor
}

// NewLinear creates a new Linear layer with weights drawn from rng
func NewLinear(inputSize, outputSize int, bias bool, rng *rand.Rand) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("%w: linear sizes must be positive, got %d -> %d", layers.ErrDimension, inputSize, outputSize)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: linear layer requires a random source", layers.ErrConfiguration)
	}

	// Initialize weights using Xavier/Glorot uniform initialization
	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := float32(math.Sqrt(6.0 / float64(inputSize+outputSize)))

	// Weight shape: [outputSize, inputSize]
	weight, err := tensor.RandomUniform([]int{outputSize, inputSize}, -bound, bound, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}

	linear := &Linear{weight: weight}

	if bias {
		// Initialize bias to zeros
		biasT, err := tensor.Zeros([]int{outputSize})
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %w", err)
		}
		linear.bias = biasT
	}

	return linear, nil
}

// InputSize returns the expected input width
func (l *Linear) InputSize() int { return l.weight.Shape[1] }

// OutputSize returns the output width
func (l *Linear) OutputSize() int { return l.weight.Shape[0] }

// Forward performs the forward pass: y = xW^T + b
func (l *Linear) Forward(p *Pass, input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("%w: Linear layer expects 2D input [num_nodes, input_size], got shape %v", layers.ErrDimension, input.Shape)
	}
	if input.Shape[1] != l.InputSize() {
		return nil, fmt.Errorf("%w: input size mismatch: expected %d, got %d", layers.ErrDimension, l.InputSize(), input.Shape[1])
	}
	return tensor.Linear(input, l.weight, l.bias)
}

// NamedParameters returns the weight and, if present, the bias
func (l *Linear) NamedParameters() []NamedTensor {
	params := []NamedTensor{{Name: "weight", Tensor: l.weight}}
	if l.bias != nil {
		params = append(params, NamedTensor{Name: "bias", Tensor: l.bias})
	}
	return params
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*tensor.Tensor {
	return tensorsOf(l.NamedParameters())
}
