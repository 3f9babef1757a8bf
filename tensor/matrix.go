package tensor

import (
	"fmt"
)

// Linear computes input @ weight^T + bias, where weight is
// [output_features, input_features] and bias is [output_features] or nil.
func Linear(input, weight, bias *Tensor) (*Tensor, error) {
	if len(input.Shape) != 2 || len(weight.Shape) != 2 {
		return nil, fmt.Errorf("Linear requires 2D input and weight tensors, got %v and %v", input.Shape, weight.Shape)
	}

	inFeatures := weight.Shape[1]
	outFeatures := weight.Shape[0]
	if input.Shape[1] != inFeatures {
		return nil, fmt.Errorf("input features (%d) must match weight input features (%d)",
			input.Shape[1], inFeatures)
	}
	if bias != nil && bias.NumElems != outFeatures {
		return nil, fmt.Errorf("bias size (%d) must match weight output features (%d)",
			bias.NumElems, outFeatures)
	}

	rows := input.Shape[0]
	result, err := Zeros([]int{rows, outFeatures})
	if err != nil {
		return nil, err
	}

	parallelRows(rows, inFeatures*outFeatures, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			x := input.Data[i*inFeatures : (i+1)*inFeatures]
			out := result.Data[i*outFeatures : (i+1)*outFeatures]
			for o := 0; o < outFeatures; o++ {
				w := weight.Data[o*inFeatures : (o+1)*inFeatures]
				var sum float32
				for k, v := range x {
					sum += v * w[k]
				}
				if bias != nil {
					sum += bias.Data[o]
				}
				out[o] = sum
			}
		}
	})

	return result, nil
}

// Concat joins 2D tensors with equal row counts along the feature axis.
func Concat(tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("concat requires at least one tensor")
	}

	rows := tensors[0].Rows()
	width := 0
	for i, t := range tensors {
		if len(t.Shape) != 2 {
			return nil, fmt.Errorf("concat input %d must be 2D, got shape %v", i, t.Shape)
		}
		if t.Shape[0] != rows {
			return nil, fmt.Errorf("concat input %d has %d rows, expected %d", i, t.Shape[0], rows)
		}
		width += t.Shape[1]
	}

	result, err := Zeros([]int{rows, width})
	if err != nil {
		return nil, err
	}

	for r := 0; r < rows; r++ {
		out := result.Row(r)
		offset := 0
		for _, t := range tensors {
			offset += copy(out[offset:], t.Row(r))
		}
	}

	return result, nil
}
