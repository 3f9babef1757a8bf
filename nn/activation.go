package nn

import (
	"fmt"

	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

// GELU applies the exact (erf based) GELU activation
type GELU struct{}

// NewGELU creates a new GELU activation module
func NewGELU() *GELU {
	return &GELU{}
}

// Forward performs GELU activation
func (a *GELU) Forward(p *Pass, input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.GELU(input)
}

// Parameters returns empty slice (GELU has no parameters)
func (a *GELU) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }

// NamedParameters returns empty slice (GELU has no parameters)
func (a *GELU) NamedParameters() []NamedTensor { return []NamedTensor{} }

// Identity returns its input unchanged
type Identity struct{}

// Forward returns input
func (i *Identity) Forward(p *Pass, input *tensor.Tensor) (*tensor.Tensor, error) {
	return input, nil
}

// Parameters returns empty slice
func (i *Identity) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }

// NamedParameters returns empty slice
func (i *Identity) NamedParameters() []NamedTensor { return []NamedTensor{} }

// Dropout zeroes elements with probability rate during training and scales
// the survivors by 1/(1-rate)
type Dropout struct {
	rate float32
}

// NewDropout creates a new Dropout module
// rate: dropout probability (0.0 = no dropout, 1.0 = drop all)
func NewDropout(rate float32) (*Dropout, error) {
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("%w: dropout must be in [0, 1], got %g", layers.ErrConfiguration, rate)
	}
	return &Dropout{rate: rate}, nil
}

// Rate returns the drop probability
func (d *Dropout) Rate() float32 { return d.rate }

// Forward applies a fresh dropout mask in training passes that carry a
// random source and is the identity otherwise
func (d *Dropout) Forward(p *Pass, input *tensor.Tensor) (*tensor.Tensor, error) {
	if d.rate == 0 || !p.IsTraining() || !p.stochastic() {
		return input, nil
	}

	output, err := tensor.Zeros(input.Shape)
	if err != nil {
		return nil, err
	}
	if d.rate >= 1 {
		return output, nil
	}

	scale := 1 / (1 - d.rate)
	for i, v := range input.Data {
		if p.Rng.Float32() >= d.rate {
			output.Data[i] = v * scale
		}
	}
	return output, nil
}

// Parameters returns empty slice (Dropout has no parameters)
func (d *Dropout) Parameters() []*tensor.Tensor { return []*tensor.Tensor{} }

// NamedParameters returns empty slice (Dropout has no parameters)
func (d *Dropout) NamedParameters() []NamedTensor { return []NamedTensor{} }
