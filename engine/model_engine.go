// Package engine executes compiled layer specifications. StackedModel turns a
// layers.ModelSpec into nn modules and runs them over a graph; the inference
// engine adds graph preparation and timing on top.
package engine

import (
	"fmt"
	"math/rand"
	"reflect"
	"sync"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/nn"
	"github.com/tsawler/go-mdgnn/tensor"
)

// step is one executable layer of the compiled model
type step struct {
	spec   *layers.LayerSpec
	local  nn.Module      // pointwise layers
	global nn.GraphModule // message passing layers
}

func (s step) namedParameters() []nn.NamedTensor {
	if s.global != nil {
		return s.global.NamedParameters()
	}
	return s.local.NamedParameters()
}

// StackedModel executes a compiled model specification: input projection,
// message passing layers, concatenation of every collected representation
// and the output projection
type StackedModel struct {
	modelSpec *layers.ModelSpec
	steps     []step

	// mu serializes weight updates against forward calls
	mu sync.RWMutex
}

// NewStackedModel builds the modules of a compiled model. All parameters are
// initialized from a random source seeded with seed.
func NewStackedModel(modelSpec *layers.ModelSpec, seed int64) (*StackedModel, error) {
	if modelSpec == nil {
		return nil, fmt.Errorf("%w: nil model spec", layers.ErrConfiguration)
	}
	if err := modelSpec.Validate(); err != nil {
		return nil, fmt.Errorf("model validation failed: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))
	sm := &StackedModel{modelSpec: modelSpec}

	for i := range modelSpec.Layers {
		layer := &modelSpec.Layers[i]
		s, err := buildStep(layer, rng)
		if err != nil {
			return nil, fmt.Errorf("failed to build layer %d (%s): %w", i, layer.Name, err)
		}
		if err := checkParameters(layer, s.namedParameters()); err != nil {
			return nil, err
		}
		sm.steps = append(sm.steps, s)
	}

	return sm, nil
}

func buildStep(layer *layers.LayerSpec, rng *rand.Rand) (step, error) {
	s := step{spec: layer}
	width := layer.InputShape[1]

	switch layer.Type {
	case layers.Dense:
		outputSize, _ := layer.Parameters["output_size"].(int)
		useBias := true
		if bias, exists := layer.Parameters["use_bias"].(bool); exists {
			useBias = bias
		}
		linear, err := nn.NewLinear(width, outputSize, useBias, rng)
		if err != nil {
			return s, err
		}
		s.local = linear
	case layers.Dropout:
		rate, _ := layer.Parameters["rate"].(float32)
		dropout, err := nn.NewDropout(rate)
		if err != nil {
			return s, err
		}
		s.local = dropout
	case layers.GELU:
		s.local = nn.NewGELU()
	case layers.Normalization:
		kind, err := layer.NormalizationKind()
		if err != nil {
			return s, err
		}
		if s.local, err = nn.NewNormalization(kind, width); err != nil {
			return s, err
		}
	case layers.MaxwellDemonFilter:
		opts, err := layer.FilterOptions()
		if err != nil {
			return s, err
		}
		if s.global, err = nn.NewMaxwellDemonFilter(width, opts, rng); err != nil {
			return s, err
		}
	case layers.ResidualBlock:
		kind, err := layer.NormalizationKind()
		if err != nil {
			return s, err
		}
		opts, err := layer.FilterOptions()
		if err != nil {
			return s, err
		}
		filter, err := nn.NewMaxwellDemonFilter(width, opts, rng)
		if err != nil {
			return s, err
		}
		if s.global, err = nn.NewResidualWrapper(kind, width, filter); err != nil {
			return s, err
		}
	case layers.Concat:
		// handled by the accumulator in Forward
		s.local = &nn.Identity{}
	default:
		return s, fmt.Errorf("%w: unsupported layer type: %s", layers.ErrConfiguration, layer.Type)
	}
	return s, nil
}

// checkParameters verifies the built modules own exactly the tensors the
// compiled spec describes
func checkParameters(layer *layers.LayerSpec, params []nn.NamedTensor) error {
	if len(params) != len(layer.ParameterNames) {
		return fmt.Errorf("%w: layer %s built %d parameters, spec declares %d", layers.ErrDimension, layer.Name, len(params), len(layer.ParameterNames))
	}
	for i, p := range params {
		if p.Name != layer.ParameterNames[i] || !reflect.DeepEqual(p.Tensor.Shape, layer.ParameterShapes[i]) {
			return fmt.Errorf("%w: layer %s parameter %d is %s%v, spec declares %s%v", layers.ErrDimension,
				layer.Name, i, p.Name, p.Tensor.Shape, layer.ParameterNames[i], layer.ParameterShapes[i])
		}
	}
	return nil
}

// Forward maps [N, input_dim] raw features to [N, output_dim] predictions,
// squeezed to [N] when output_dim is 1. A nil pass is a deterministic
// evaluation pass.
func (sm *StackedModel) Forward(p *nn.Pass, g *graph.Graph, input *tensor.Tensor) (*tensor.Tensor, error) {
	if g == nil || input == nil {
		return nil, fmt.Errorf("%w: forward requires a graph and features", graph.ErrInvalidGraph)
	}
	if len(input.Shape) != 2 || input.Shape[1] != sm.modelSpec.InputShape[1] {
		return nil, fmt.Errorf("%w: model expects [num_nodes, %d] input, got shape %v", layers.ErrDimension, sm.modelSpec.InputShape[1], input.Shape)
	}
	if input.Shape[0] != g.NumNodes() {
		return nil, fmt.Errorf("%w: %d feature rows for a graph with %d nodes", graph.ErrInvalidGraph, input.Shape[0], g.NumNodes())
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	current := input
	var accumulator []*tensor.Tensor
	var err error

	for _, s := range sm.steps {
		switch {
		case s.spec.Type == layers.Concat:
			current, err = tensor.Concat(accumulator...)
			accumulator = nil
		case s.global != nil:
			current, err = s.global.Forward(p, g, current)
		default:
			current, err = s.local.Forward(p, current)
		}
		if err != nil {
			return nil, fmt.Errorf("layer %s forward failed: %w", s.spec.Name, err)
		}
		if s.spec.Collect {
			accumulator = append(accumulator, current)
		}
	}

	if current.Dim() == 2 && current.Shape[1] == 1 {
		return current.Squeeze(1)
	}
	return current, nil
}

// NamedParameters returns every learned tensor as layer_name.parameter_path
func (sm *StackedModel) NamedParameters() []nn.NamedTensor {
	var params []nn.NamedTensor
	for _, s := range sm.steps {
		for _, p := range s.namedParameters() {
			params = append(params, nn.NamedTensor{Name: s.spec.Name + "." + p.Name, Tensor: p.Tensor})
		}
	}
	return params
}

// Parameters returns all trainable parameters in a stable order
func (sm *StackedModel) Parameters() []*tensor.Tensor {
	named := sm.NamedParameters()
	params := make([]*tensor.Tensor, len(named))
	for i, p := range named {
		params[i] = p.Tensor
	}
	return params
}

// LoadWeights copies the given tensors into the matching parameters. Every
// name must exist and shapes must match; parameters not listed are left as
// they are. LoadWeights waits for in-flight forward calls to finish.
func (sm *StackedModel) LoadWeights(weights []nn.NamedTensor) error {
	byName := make(map[string]*tensor.Tensor)
	for _, p := range sm.NamedParameters() {
		byName[p.Name] = p.Tensor
	}

	for _, w := range weights {
		target, ok := byName[w.Name]
		if !ok {
			return fmt.Errorf("%w: unknown parameter %s", layers.ErrConfiguration, w.Name)
		}
		if !reflect.DeepEqual(target.Shape, w.Tensor.Shape) {
			return fmt.Errorf("%w: parameter %s has shape %v, got %v", layers.ErrDimension, w.Name, target.Shape, w.Tensor.Shape)
		}
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, w := range weights {
		copy(byName[w.Name].Data, w.Tensor.Data)
	}
	return nil
}

// ListBatchNormLayers returns the names of layers that carry BatchNorm
// running statistics
func (sm *StackedModel) ListBatchNormLayers() []string {
	var names []string
	for _, layer := range sm.modelSpec.Layers {
		if layer.Type != layers.Normalization && layer.Type != layers.ResidualBlock {
			continue
		}
		if kind, err := layer.NormalizationKind(); err == nil && kind == layers.NormBatch {
			names = append(names, layer.Name)
		}
	}
	return names
}

// GetModelSpec returns the compiled specification
func (sm *StackedModel) GetModelSpec() *layers.ModelSpec {
	return sm.modelSpec
}

// OutputDim returns the width of each node's prediction
func (sm *StackedModel) OutputDim() int {
	return sm.modelSpec.OutputShape[1]
}

// Summary returns the compiled model summary
func (sm *StackedModel) Summary() string {
	return sm.modelSpec.Summary()
}
