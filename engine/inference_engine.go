package engine

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/nn"
	"github.com/tsawler/go-mdgnn/tensor"
)

// InferenceConfig controls how the inference engine prepares graphs and
// whether predictions include the chaos perturbation
type InferenceConfig struct {
	Guard graph.Guard

	// Stochastic draws chaos noise from a source seeded with Seed, so
	// repeated predictions with the same seed are identical
	Stochastic bool
	Seed       int64

	// Training runs a training pass: dropout is active and chaos noise is
	// drawn from the seeded source
	Training bool
}

// InferenceResult holds the predictions for the caller's original nodes
type InferenceResult struct {
	Predictions *tensor.Tensor
	NumNodes    int
	NumEdges    int // after the guard was applied
	Mode        nn.Mode
	Duration    time.Duration
}

// InferenceEngine runs evaluation passes of a StackedModel over raw datasets
type InferenceEngine struct {
	model  *StackedModel
	config InferenceConfig
}

// NewInferenceEngine wraps model for prediction
func NewInferenceEngine(model *StackedModel, config InferenceConfig) (*InferenceEngine, error) {
	if model == nil {
		return nil, fmt.Errorf("inference engine requires a model")
	}
	return &InferenceEngine{model: model, config: config}, nil
}

// Model returns the wrapped model
func (ie *InferenceEngine) Model() *StackedModel {
	return ie.model
}

// Predict applies the configured in-degree guard and runs one forward pass. Rows added by the guard are dropped from the result.
func (ie *InferenceEngine) Predict(g *graph.Graph, features *tensor.Tensor) (*InferenceResult, error) {
	if g == nil || features == nil {
		return nil, fmt.Errorf("%w: predict requires a graph and features", graph.ErrInvalidGraph)
	}
	start := time.Now()

	guarded, guardedFeatures, err := ie.config.Guard.Apply(g, features)
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s guard: %w", ie.config.Guard, err)
	}

	pass := nn.EvalPass()
	switch {
	case ie.config.Training:
		pass = nn.TrainPass(rand.New(rand.NewSource(ie.config.Seed)))
	case ie.config.Stochastic:
		pass.Rng = rand.New(rand.NewSource(ie.config.Seed))
	}

	output, err := ie.model.Forward(pass, guarded, guardedFeatures)
	if err != nil {
		return nil, err
	}

	predictions, err := firstRows(output, g.NumNodes())
	if err != nil {
		return nil, err
	}

	return &InferenceResult{
		Predictions: predictions,
		NumNodes:    g.NumNodes(),
		NumEdges:    guarded.NumEdges(),
		Mode:        pass.Mode,
		Duration:    time.Since(start),
	}, nil
}

// firstRows keeps the first n entries along the node axis
func firstRows(t *tensor.Tensor, n int) (*tensor.Tensor, error) {
	if t.Shape[0] == n {
		return t, nil
	}
	if t.Shape[0] < n {
		return nil, fmt.Errorf("output has %d rows, expected at least %d", t.Shape[0], n)
	}
	shape := append([]int{n}, t.Shape[1:]...)
	width := t.RowWidth()
	return tensor.NewTensor(shape, append([]float32(nil), t.Data[:n*width]...))
}
