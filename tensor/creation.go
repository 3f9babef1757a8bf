package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor wraps data in a tensor of the given shape. A nil data slice
// allocates zeroed storage.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	}
	if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	s := make([]int, len(shape))
	copy(s, shape)

	return &Tensor{
		Shape:    s,
		Strides:  calculateStrides(s),
		Data:     data,
		NumElems: numElems,
	}, nil
}

func Zeros(shape []int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1)
}

func Full(shape []int, value float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	slice := make([]float32, calculateNumElements(shape))
	for i := range slice {
		slice[i] = value
	}
	return NewTensor(shape, slice)
}

// FromRows builds a [len(rows), width] tensor. All rows must share a width.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("FromRows requires at least one row")
	}

	width := len(rows[0])
	data := make([]float32, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has width %d, expected %d", i, len(row), width)
		}
		data = append(data, row...)
	}
	return NewTensor([]int{len(rows), width}, data)
}

// RandomUniform draws from U(low, high) using rng.
func RandomUniform(shape []int, low, high float32, rng *rand.Rand) (*Tensor, error) {
	if rng == nil {
		return nil, fmt.Errorf("RandomUniform requires a random source")
	}
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	slice := make([]float32, calculateNumElements(shape))
	for i := range slice {
		slice[i] = low + rng.Float32()*(high-low)
	}
	return NewTensor(shape, slice)
}

// RandomNormal draws from N(mean, std^2) using rng.
func RandomNormal(shape []int, mean, std float32, rng *rand.Rand) (*Tensor, error) {
	if rng == nil {
		return nil, fmt.Errorf("RandomNormal requires a random source")
	}
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	slice := make([]float32, calculateNumElements(shape))
	for i := range slice {
		slice[i] = float32(rng.NormFloat64())*std + mean
	}
	return NewTensor(shape, slice)
}
