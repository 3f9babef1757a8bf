package nn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

// attentionSlope is the LeakyReLU negative slope applied to edge logits
const attentionSlope = 0.2

func checkGraphInput(name string, g *graph.Graph, input *tensor.Tensor, dim int) error {
	if g == nil {
		return fmt.Errorf("%w: %s requires a graph", graph.ErrInvalidGraph, name)
	}
	if len(input.Shape) != 2 || input.Shape[1] != dim {
		return fmt.Errorf("%w: %s expects [num_nodes, %d] input, got shape %v", layers.ErrDimension, name, dim, input.Shape)
	}
	if input.Shape[0] != g.NumNodes() {
		return fmt.Errorf("%w: %s got %d feature rows for a graph with %d nodes", graph.ErrInvalidGraph, name, input.Shape[0], g.NumNodes())
	}
	return nil
}

func checkHeads(dim, heads int) error {
	if heads <= 0 {
		return fmt.Errorf("%w: num_heads must be positive, got %d", layers.ErrConfiguration, heads)
	}
	if dim%heads != 0 {
		return fmt.Errorf("%w: hidden width %d is not divisible by %d heads", layers.ErrDimension, dim, heads)
	}
	return nil
}

// AttentionScorer produces per-edge, per-head attention probabilities that
// sum to one over each destination's incoming edges
type AttentionScorer struct {
	dim   int
	heads int
	attnU *Linear // source side, with bias
	attnV *Linear // destination side
}

// NewAttentionScorer creates the source and destination head projections
func NewAttentionScorer(dim, heads int, rng *rand.Rand) (*AttentionScorer, error) {
	if err := checkHeads(dim, heads); err != nil {
		return nil, err
	}
	attnU, err := NewLinear(dim, heads, true, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create attn_u: %w", err)
	}
	attnV, err := NewLinear(dim, heads, false, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create attn_v: %w", err)
	}
	return &AttentionScorer{dim: dim, heads: heads, attnU: attnU, attnV: attnV}, nil
}

// Heads returns the number of attention heads
func (a *AttentionScorer) Heads() int { return a.heads }

// Logits returns LeakyReLU(u[src] + v[dst]) as an [E, H] edge signal
func (a *AttentionScorer) Logits(p *Pass, g *graph.Graph, input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkGraphInput("AttentionScorer", g, input, a.dim); err != nil {
		return nil, err
	}

	u, err := a.attnU.Forward(p, input)
	if err != nil {
		return nil, fmt.Errorf("attn_u: %w", err)
	}
	v, err := a.attnV.Forward(p, input)
	if err != nil {
		return nil, fmt.Errorf("attn_v: %w", err)
	}

	scores, err := g.BroadcastSum(u, v)
	if err != nil {
		return nil, err
	}
	return tensor.LeakyReLU(scores, attentionSlope)
}

// Forward returns edge softmax probabilities as an [E, H] edge signal
func (a *AttentionScorer) Forward(p *Pass, g *graph.Graph, input *tensor.Tensor) (*tensor.Tensor, error) {
	logits, err := a.Logits(p, g, input)
	if err != nil {
		return nil, err
	}
	return g.EdgeSoftmax(logits)
}

// NamedParameters returns the attn_u and attn_v projections
func (a *AttentionScorer) NamedParameters() []NamedTensor {
	params := withPrefix("attn_u.", a.attnU.NamedParameters())
	return append(params, withPrefix("attn_v.", a.attnV.NamedParameters())...)
}

// Parameters returns all trainable parameters
func (a *AttentionScorer) Parameters() []*tensor.Tensor {
	return tensorsOf(a.NamedParameters())
}

// EnergyGate computes the Maxwell-Demon gate: a per-node, per-head demon
// state is perturbed by chaos-scaled noise, compared with the mean state of
// the node's in-neighbors, and the resulting energies of an edge's endpoints
// are turned into sigmoid(energy[dst] - energy[src])
type EnergyGate struct {
	dim   int
	heads int
	demon *Linear
	chaos *tensor.Tensor
}

// NewEnergyGate creates the demon state projection and the chaos scalar
func NewEnergyGate(dim, heads int, chaosInit float32, rng *rand.Rand) (*EnergyGate, error) {
	if err := checkHeads(dim, heads); err != nil {
		return nil, err
	}
	demon, err := NewLinear(dim, heads, true, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create demon state projection: %w", err)
	}
	chaos, err := tensor.Full([]int{1}, chaosInit)
	if err != nil {
		return nil, fmt.Errorf("failed to create chaos tensor: %w", err)
	}
	return &EnergyGate{dim: dim, heads: heads, demon: demon, chaos: chaos}, nil
}

// Chaos returns the current chaos scale
func (eg *EnergyGate) Chaos() float32 { return eg.chaos.Data[0] }

// Energy returns the per-node energy, demon state minus the in-neighbor
// mean demon state, as an [N, H] node signal. Noise is drawn only when the
// pass carries a random source.
func (eg *EnergyGate) Energy(p *Pass, g *graph.Graph, input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkGraphInput("EnergyGate", g, input, eg.dim); err != nil {
		return nil, err
	}

	state, err := eg.demon.Forward(p, input)
	if err != nil {
		return nil, fmt.Errorf("demon state: %w", err)
	}

	if p.stochastic() {
		noise, err := tensor.RandomNormal(state.Shape, 0, 1, p.Rng)
		if err != nil {
			return nil, err
		}
		if noise, err = tensor.Scale(noise, eg.Chaos()); err != nil {
			return nil, err
		}
		if state, err = tensor.Add(state, noise); err != nil {
			return nil, err
		}
	}

	mean, err := g.MeanReduceIncoming(state)
	if err != nil {
		return nil, err
	}
	energy, err := tensor.Sub(state, mean)
	if err != nil {
		return nil, err
	}
	if idx := energy.FirstNonFinite(); idx >= 0 {
		return nil, fmt.Errorf("%w: energy of node %d is %f", graph.ErrNumericalDegeneracy, idx/eg.heads, energy.Data[idx])
	}
	return energy, nil
}

// Forward returns the [E, H] gate values in (0, 1)
func (eg *EnergyGate) Forward(p *Pass, g *graph.Graph, input *tensor.Tensor) (*tensor.Tensor, error) {
	energy, err := eg.Energy(p, g, input)
	if err != nil {
		return nil, err
	}

	negated, err := tensor.Scale(energy, -1)
	if err != nil {
		return nil, err
	}
	// -energy[src] + energy[dst]
	differential, err := g.BroadcastSum(negated, energy)
	if err != nil {
		return nil, err
	}
	return tensor.Sigmoid(differential)
}

// NamedParameters returns the demon projection and the chaos scalar
func (eg *EnergyGate) NamedParameters() []NamedTensor {
	params := withPrefix("demon.", eg.demon.NamedParameters())
	return append(params, NamedTensor{Name: "chaos", Tensor: eg.chaos})
}

// Parameters returns all trainable parameters
func (eg *EnergyGate) Parameters() []*tensor.Tensor {
	return tensorsOf(eg.NamedParameters())
}
