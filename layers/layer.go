package layers

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// LayerType represents the type of a model layer
type LayerType int

const (
	Dense LayerType = iota
	Dropout
	GELU
	Normalization
	MaxwellDemonFilter
	ResidualBlock
	Concat
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case Dropout:
		return "Dropout"
	case GELU:
		return "GELU"
	case Normalization:
		return "Normalization"
	case MaxwellDemonFilter:
		return "MaxwellDemonFilter"
	case ResidualBlock:
		return "ResidualBlock"
	case Concat:
		return "Concat"
	default:
		return "Unknown"
	}
}

// DynamicNodes marks the node axis of a shape; the node count is only known
// when a graph is supplied.
const DynamicNodes = -1

// LayerSpec defines layer configuration for the graph engine
// This is pure configuration - no execution logic
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Collect appends this layer's output to the model's concatenation
	// accumulator, consumed by the next Concat layer.
	Collect bool `json:"collect,omitempty"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterNames  []string `json:"parameter_names,omitempty"`
	ParameterShapes [][]int  `json:"parameter_shapes,omitempty"`
	ParameterCount  int64    `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete model as layer configuration
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// FilterOptions decodes the options of a MaxwellDemonFilter or ResidualBlock layer.
func (ls *LayerSpec) FilterOptions() (FilterOptions, error) {
	if ls.Type != MaxwellDemonFilter && ls.Type != ResidualBlock {
		return FilterOptions{}, fmt.Errorf("%w: layer %s (%s) has no filter options", ErrConfiguration, ls.Name, ls.Type)
	}

	var fo FilterOptions
	var ok bool
	if fo.NumHeads, ok = ls.Parameters["num_heads"].(int); !ok {
		return fo, fmt.Errorf("%w: layer %s missing num_heads parameter", ErrConfiguration, ls.Name)
	}
	if fo.HiddenDimMultiplier, ok = ls.Parameters["hidden_dim_multiplier"].(float64); !ok {
		return fo, fmt.Errorf("%w: layer %s missing hidden_dim_multiplier parameter", ErrConfiguration, ls.Name)
	}
	if fo.Dropout, ok = ls.Parameters["dropout"].(float32); !ok {
		return fo, fmt.Errorf("%w: layer %s missing dropout parameter", ErrConfiguration, ls.Name)
	}
	if fo.UseFilters, ok = ls.Parameters["use_filters"].(bool); !ok {
		return fo, fmt.Errorf("%w: layer %s missing use_filters parameter", ErrConfiguration, ls.Name)
	}
	if fo.Aggregation, ok = ls.Parameters["aggregation"].(AggregationMode); !ok {
		return fo, fmt.Errorf("%w: layer %s missing aggregation parameter", ErrConfiguration, ls.Name)
	}
	if fo.ChaosInit, ok = ls.Parameters["chaos_init"].(float32); !ok {
		return fo, fmt.Errorf("%w: layer %s missing chaos_init parameter", ErrConfiguration, ls.Name)
	}
	return fo, nil
}

// NormalizationKind decodes the normalization of a Normalization or ResidualBlock layer.
func (ls *LayerSpec) NormalizationKind() (NormalizationKind, error) {
	kind, ok := ls.Parameters["normalization"].(NormalizationKind)
	if !ok {
		return NormNone, fmt.Errorf("%w: layer %s missing normalization parameter", ErrConfiguration, ls.Name)
	}
	return kind, nil
}

// ModelBuilder helps construct graph models
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
}

// NewModelBuilder creates a builder for models taking [N, inputDim] node features
func NewModelBuilder(inputDim int) *ModelBuilder {
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: []int{DynamicNodes, inputDim},
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	return mb
}

// Collect marks the most recently added layer's output for concatenation
func (mb *ModelBuilder) Collect() *ModelBuilder {
	if len(mb.layers) > 0 {
		mb.layers[len(mb.layers)-1].Collect = true
	}
	return mb
}

// AddDense adds a dense layer; the input size is computed during compilation
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	})
}

// AddDropout adds a Dropout layer
// rate: dropout probability (0.0 = no dropout, 1.0 = drop all)
func (mb *ModelBuilder) AddDropout(rate float32, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	})
}

// AddGELU adds a GELU activation
func (mb *ModelBuilder) AddGELU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type:       GELU,
		Name:       name,
		Parameters: map[string]interface{}{},
	})
}

// AddNormalization adds a normalization over the feature axis
func (mb *ModelBuilder) AddNormalization(kind NormalizationKind, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Normalization,
		Name: name,
		Parameters: map[string]interface{}{
			"normalization": kind,
		},
	})
}

// AddMaxwellDemonFilter adds a bare message passing layer
func (mb *ModelBuilder) AddMaxwellDemonFilter(opts FilterOptions, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type:       MaxwellDemonFilter,
		Name:       name,
		Parameters: opts.parameters(),
	})
}

// AddResidualBlock adds normalize-then-filter; the block's output is the
// filter output, with no skip connection
func (mb *ModelBuilder) AddResidualBlock(kind NormalizationKind, opts FilterOptions, name string) *ModelBuilder {
	params := opts.parameters()
	params["normalization"] = kind
	return mb.AddLayer(LayerSpec{
		Type:       ResidualBlock,
		Name:       name,
		Parameters: params,
	})
}

// AddConcat concatenates every collected output along the feature axis
func (mb *ModelBuilder) AddConcat(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type:       Concat,
		Name:       name,
		Parameters: map[string]interface{}{},
	})
}

// Compile compiles the model and computes shapes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) != 2 || mb.inputShape[1] <= 0 {
		return nil, fmt.Errorf("%w: input feature width must be positive, got shape %v", ErrDimension, mb.inputShape)
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
	}
	for i, layer := range mb.layers {
		model.Layers[i] = layer
		model.Layers[i].Parameters = copyParameters(layer.Parameters)
	}

	currentShape := mb.inputShape
	var collected []int
	var allParameterShapes [][]int
	totalParams := int64(0)

	for i := range model.Layers {
		layer := &model.Layers[i]

		layer.InputShape = make([]int, len(currentShape))
		copy(layer.InputShape, currentShape)

		outputShape, names, paramShapes, err := mb.computeLayerInfo(layer, currentShape, collected)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %w", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterNames = names
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = countParameters(paramShapes)

		allParameterShapes = append(allParameterShapes, paramShapes...)
		totalParams += layer.ParameterCount

		if layer.Type == Concat {
			collected = nil
		}
		if layer.Collect {
			collected = append(collected, outputShape[1])
		}

		currentShape = outputShape
	}

	if len(collected) > 0 {
		return nil, fmt.Errorf("%w: %d collected outputs are never concatenated", ErrConfiguration, len(collected))
	}

	model.OutputShape = currentShape
	model.ParameterShapes = allParameterShapes
	model.TotalParameters = totalParams
	model.Compiled = true

	return model, nil
}

func copyParameters(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func countParameters(shapes [][]int) int64 {
	var total int64
	for _, shape := range shapes {
		n := int64(1)
		for _, dim := range shape {
			n *= int64(dim)
		}
		total += n
	}
	return total
}

// computeLayerInfo computes output shape and parameter information for a layer
func (mb *ModelBuilder) computeLayerInfo(layer *LayerSpec, inputShape []int, collected []int) ([]int, []string, [][]int, error) {
	width := inputShape[1]

	switch layer.Type {
	case Dense:
		return mb.computeDenseInfo(layer, width)
	case Dropout:
		rate, ok := layer.Parameters["rate"].(float32)
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: missing rate parameter", ErrConfiguration)
		}
		if err := validateDropout(rate); err != nil {
			return nil, nil, nil, err
		}
		return []int{DynamicNodes, width}, nil, nil, nil
	case GELU:
		return []int{DynamicNodes, width}, nil, nil, nil
	case Normalization:
		kind, err := layer.NormalizationKind()
		if err != nil {
			return nil, nil, nil, err
		}
		names, shapes, err := normalizationParameters(kind, width, "")
		return []int{DynamicNodes, width}, names, shapes, err
	case MaxwellDemonFilter:
		opts, err := layer.FilterOptions()
		if err != nil {
			return nil, nil, nil, err
		}
		names, shapes, err := filterParameters(opts, width, "")
		return []int{DynamicNodes, width}, names, shapes, err
	case ResidualBlock:
		kind, err := layer.NormalizationKind()
		if err != nil {
			return nil, nil, nil, err
		}
		opts, err := layer.FilterOptions()
		if err != nil {
			return nil, nil, nil, err
		}
		names, shapes, err := normalizationParameters(kind, width, "norm.")
		if err != nil {
			return nil, nil, nil, err
		}
		filterNames, filterShapes, err := filterParameters(opts, width, "layer.")
		if err != nil {
			return nil, nil, nil, err
		}
		return []int{DynamicNodes, width}, append(names, filterNames...), append(shapes, filterShapes...), nil
	case Concat:
		if len(collected) == 0 {
			return nil, nil, nil, fmt.Errorf("%w: concat without collected outputs", ErrConfiguration)
		}
		total := 0
		for _, w := range collected {
			total += w
		}
		return []int{DynamicNodes, total}, nil, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: unsupported layer type: %s", ErrConfiguration, layer.Type.String())
	}
}

// computeDenseInfo computes dense layer information
func (mb *ModelBuilder) computeDenseInfo(layer *LayerSpec, inputSize int) ([]int, []string, [][]int, error) {
	outputSize, ok := layer.Parameters["output_size"].(int)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: missing output_size parameter", ErrConfiguration)
	}
	if outputSize <= 0 {
		return nil, nil, nil, fmt.Errorf("%w: output_size must be positive, got %d", ErrDimension, outputSize)
	}

	useBias := true
	if bias, exists := layer.Parameters["use_bias"].(bool); exists {
		useBias = bias
	}

	layer.Parameters["input_size"] = inputSize

	// Weight matrix: [outputSize, inputSize]
	names := []string{"weight"}
	shapes := [][]int{{outputSize, inputSize}}
	if useBias {
		names = append(names, "bias")
		shapes = append(shapes, []int{outputSize})
	}

	return []int{DynamicNodes, outputSize}, names, shapes, nil
}

func normalizationParameters(kind NormalizationKind, width int, prefix string) ([]string, [][]int, error) {
	switch kind {
	case NormNone:
		return nil, nil, nil
	case NormLayer, NormBatch:
		// Learnable scale (gamma) and shift (beta); BatchNorm running
		// statistics are buffers, not parameters
		return []string{prefix + "weight", prefix + "bias"}, [][]int{{width}, {width}}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown normalization %d", ErrConfiguration, int(kind))
	}
}

// filterParameters lists the learned tensors of one filter layer of width dim
func filterParameters(opts FilterOptions, dim int, prefix string) ([]string, [][]int, error) {
	if err := opts.Validate(dim); err != nil {
		return nil, nil, err
	}

	heads := opts.NumHeads
	multiplier, _ := opts.Aggregation.InputMultiplier()
	hidden := int(float64(dim) * opts.HiddenDimMultiplier)

	names := []string{
		"fc.weight", "fc.bias",
		"attn_u.weight", "attn_u.bias",
		"attn_v.weight",
	}
	shapes := [][]int{
		{dim, dim}, {dim},
		{heads, dim}, {heads},
		{heads, dim},
	}

	if opts.UseFilters {
		names = append(names, "demon.weight", "demon.bias", "chaos")
		shapes = append(shapes, []int{heads, dim}, []int{heads}, []int{1})
	}

	names = append(names, "ffn.linear_1.weight", "ffn.linear_1.bias", "ffn.linear_2.weight", "ffn.linear_2.bias")
	shapes = append(shapes, []int{hidden, multiplier * dim}, []int{hidden}, []int{dim, hidden}, []int{dim})

	for i := range names {
		names[i] = prefix + names[i]
	}
	return names, shapes, nil
}

// Validate checks that a compiled model can be executed by the graph engine
func (ms *ModelSpec) Validate() error {
	if !ms.Compiled {
		return fmt.Errorf("model not compiled")
	}
	if len(ms.Layers) == 0 {
		return fmt.Errorf("empty model")
	}

	hasFilter := false
	for _, layer := range ms.Layers {
		if layer.Type == MaxwellDemonFilter || layer.Type == ResidualBlock {
			hasFilter = true
			break
		}
	}
	if !hasFilter {
		return fmt.Errorf("%w: model requires at least one message passing layer", ErrConfiguration)
	}

	return nil
}

func formatShape(shape []int) string {
	s := "["
	for i, dim := range shape {
		if i > 0 {
			s += ", "
		}
		if dim == DynamicNodes {
			s += "N"
		} else {
			s += fmt.Sprintf("%d", dim)
		}
	}
	return s + "]"
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	summary := "Model Summary:\n"
	summary += fmt.Sprintf("Input Shape: %s\n", formatShape(ms.InputShape))
	summary += fmt.Sprintf("Output Shape: %s\n", formatShape(ms.OutputShape))
	summary += fmt.Sprintf("Total Parameters: %s\n", humanize.Comma(ms.TotalParameters))
	summary += fmt.Sprintf("Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		summary += fmt.Sprintf("Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		summary += fmt.Sprintf("  Input:  %s\n", formatShape(layer.InputShape))
		summary += fmt.Sprintf("  Output: %s\n", formatShape(layer.OutputShape))
		summary += fmt.Sprintf("  Params: %s\n", humanize.Comma(layer.ParameterCount))
		if layer.Collect {
			summary += "  Collected: yes\n"
		}
		summary += "\n"
	}

	return summary
}
