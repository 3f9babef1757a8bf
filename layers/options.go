package layers

import (
	"errors"
	"fmt"
)

var (
	// ErrDimension reports widths that cannot be wired together, such as a
	// hidden width not divisible by the head count.
	ErrDimension = errors.New("dimension mismatch")

	// ErrConfiguration reports unknown or out-of-range options.
	ErrConfiguration = errors.New("invalid configuration")
)

// NormalizationKind selects the normalization applied over the feature axis.
type NormalizationKind int

const (
	NormNone NormalizationKind = iota
	NormLayer
	NormBatch
)

func (nk NormalizationKind) String() string {
	switch nk {
	case NormNone:
		return "None"
	case NormLayer:
		return "LayerNorm"
	case NormBatch:
		return "BatchNorm"
	default:
		return "Unknown"
	}
}

// ParseNormalization maps a configuration name to a NormalizationKind.
func ParseNormalization(name string) (NormalizationKind, error) {
	switch name {
	case "None", "none", "":
		return NormNone, nil
	case "LayerNorm":
		return NormLayer, nil
	case "BatchNorm":
		return NormBatch, nil
	default:
		return NormNone, fmt.Errorf("%w: unknown normalization %q (expected None, LayerNorm or BatchNorm)", ErrConfiguration, name)
	}
}

// AggregationMode selects how neighbor messages are combined with a node's
// own features before the feed-forward transform.
type AggregationMode int

const (
	// AggregationSimple concatenates node features with the attended message.
	AggregationSimple AggregationMode = iota
	// AggregationCombined additionally concatenates the unweighted neighbor
	// mean and the degree-normalized neighbor sum.
	AggregationCombined
)

func (am AggregationMode) String() string {
	switch am {
	case AggregationSimple:
		return "Simple"
	case AggregationCombined:
		return "Combined"
	default:
		return "Unknown"
	}
}

// InputMultiplier is the number of width-D blocks the aggregator emits, and
// therefore the feed-forward input multiplier.
func (am AggregationMode) InputMultiplier() (int, error) {
	switch am {
	case AggregationSimple:
		return 2, nil
	case AggregationCombined:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: unknown aggregation mode %d", ErrConfiguration, int(am))
	}
}

// AggregationFromFlag maps the use_combinations option to a mode.
func AggregationFromFlag(useCombinations bool) AggregationMode {
	if useCombinations {
		return AggregationCombined
	}
	return AggregationSimple
}

// FilterOptions configures one Maxwell-Demon filter layer. The hidden width
// is taken from the layer input.
type FilterOptions struct {
	NumHeads            int
	HiddenDimMultiplier float64
	Dropout             float32
	UseFilters          bool
	Aggregation         AggregationMode
	ChaosInit           float32
}

// DefaultFilterOptions mirrors the reference training defaults.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		NumHeads:            8,
		HiddenDimMultiplier: 1,
		Dropout:             0.2,
		UseFilters:          true,
		Aggregation:         AggregationCombined,
		ChaosInit:           0.1,
	}
}

// Validate checks the options against a layer of width dim.
func (fo FilterOptions) Validate(dim int) error {
	if fo.NumHeads <= 0 {
		return fmt.Errorf("%w: num_heads must be positive, got %d", ErrConfiguration, fo.NumHeads)
	}
	if dim%fo.NumHeads != 0 {
		return fmt.Errorf("%w: hidden width %d is not divisible by %d heads", ErrDimension, dim, fo.NumHeads)
	}
	if err := validateDropout(fo.Dropout); err != nil {
		return err
	}
	if _, err := fo.Aggregation.InputMultiplier(); err != nil {
		return err
	}
	if fo.HiddenDimMultiplier <= 0 || int(float64(dim)*fo.HiddenDimMultiplier) < 1 {
		return fmt.Errorf("%w: hidden_dim_multiplier %g gives an empty feed-forward layer for width %d", ErrConfiguration, fo.HiddenDimMultiplier, dim)
	}
	return nil
}

func validateDropout(rate float32) error {
	if rate < 0 || rate > 1 {
		return fmt.Errorf("%w: dropout must be in [0, 1], got %g", ErrConfiguration, rate)
	}
	return nil
}

func (fo FilterOptions) parameters() map[string]interface{} {
	return map[string]interface{}{
		"num_heads":             fo.NumHeads,
		"hidden_dim_multiplier": fo.HiddenDimMultiplier,
		"dropout":               fo.Dropout,
		"use_filters":           fo.UseFilters,
		"aggregation":           fo.Aggregation,
		"chaos_init":            fo.ChaosInit,
	}
}
