// Package nn provides the executable modules of the Maxwell-Demon graph
// network: pointwise layers (Linear, Dropout, GELU, normalizations,
// FeedForwardModule) and graph layers (AttentionScorer, EnergyGate,
// MessageAggregator, MaxwellDemonFilter, ResidualWrapper).
//
// Modules hold learned parameters only. Training/evaluation mode and the
// random source travel with each forward call in a Pass, so one set of
// parameters can serve concurrent forward calls.
package nn

import (
	"math/rand"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/tensor"
)

// Mode selects training or evaluation behavior for one forward call
type Mode int

const (
	Evaluation Mode = iota
	Training
)

func (m Mode) String() string {
	switch m {
	case Evaluation:
		return "Evaluation"
	case Training:
		return "Training"
	default:
		return "Unknown"
	}
}

// Pass carries per-call state through every module of a forward call.
// A nil Rng makes the call fully deterministic: no dropout masks and no
// chaos perturbation. A Pass must not be shared between goroutines.
type Pass struct {
	Mode Mode
	Rng  *rand.Rand
}

// EvalPass returns a deterministic evaluation pass
func EvalPass() *Pass {
	return &Pass{Mode: Evaluation}
}

// TrainPass returns a training pass drawing randomness from rng
func TrainPass(rng *rand.Rand) *Pass {
	return &Pass{Mode: Training, Rng: rng}
}

// IsTraining reports whether the pass runs in training mode
func (p *Pass) IsTraining() bool {
	return p != nil && p.Mode == Training
}

func (p *Pass) stochastic() bool {
	return p != nil && p.Rng != nil
}

// NamedTensor pairs a learned tensor with its dotted parameter path
type NamedTensor struct {
	Name   string
	Tensor *tensor.Tensor
}

// Module is a pointwise transform of node features that ignores topology
type Module interface {
	Forward(p *Pass, input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	NamedParameters() []NamedTensor
}

// GraphModule transforms node features using the graph's edges
type GraphModule interface {
	Forward(p *Pass, g *graph.Graph, input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	NamedParameters() []NamedTensor
}

func withPrefix(prefix string, params []NamedTensor) []NamedTensor {
	out := make([]NamedTensor, len(params))
	for i, p := range params {
		out[i] = NamedTensor{Name: prefix + p.Name, Tensor: p.Tensor}
	}
	return out
}

func tensorsOf(params []NamedTensor) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		out[i] = p.Tensor
	}
	return out
}
