package layers

import "fmt"

// StackedOptions describes a full Maxwell-Demon network: an input projection,
// NumLayers residual filter blocks, a concatenation of every intermediate
// representation, a final normalization and an output projection.
type StackedOptions struct {
	NumLayers     int
	HiddenDim     int
	Normalization NormalizationKind
	Filter        FilterOptions
}

// NewStackedModelSpec compiles the standard stacked architecture for
// inputDim node features and outputDim predictions per node. The input
// dropout rate is shared with the filter layers.
func NewStackedModelSpec(inputDim, outputDim int, opts StackedOptions) (*ModelSpec, error) {
	if opts.NumLayers < 1 {
		return nil, fmt.Errorf("%w: num_layers must be at least 1, got %d", ErrConfiguration, opts.NumLayers)
	}
	if opts.HiddenDim <= 0 {
		return nil, fmt.Errorf("%w: hidden_dim must be positive, got %d", ErrDimension, opts.HiddenDim)
	}
	if outputDim <= 0 {
		return nil, fmt.Errorf("%w: output_dim must be positive, got %d", ErrDimension, outputDim)
	}
	if err := opts.Filter.Validate(opts.HiddenDim); err != nil {
		return nil, err
	}

	builder := NewModelBuilder(inputDim).
		AddDense(opts.HiddenDim, true, "input_linear").
		AddDropout(opts.Filter.Dropout, "input_dropout").
		AddGELU("input_act").
		Collect()

	for i := 0; i < opts.NumLayers; i++ {
		builder.AddResidualBlock(opts.Normalization, opts.Filter, fmt.Sprintf("residual_%d", i)).Collect()
	}

	return builder.
		AddConcat("concat").
		AddNormalization(opts.Normalization, "output_norm").
		AddDense(outputDim, true, "output_linear").
		Compile()
}
