package tensor

import (
	"fmt"
	"math"
)

func checkShapesCompatible(shape1, shape2 []int) ([]int, error) {
	if len(shape1) == 0 || len(shape2) == 0 {
		return nil, fmt.Errorf("cannot operate on empty tensors")
	}

	if len(shape1) != len(shape2) {
		return nil, fmt.Errorf("tensor shapes must have same number of dimensions: %v vs %v", shape1, shape2)
	}

	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return nil, fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
		}
	}

	return shape1, nil
}

func elementwise(t1, t2 *Tensor, name string, fn func(a, b float32) float32) (*Tensor, error) {
	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	result, err := Zeros(outputShape)
	if err != nil {
		return nil, err
	}

	for i := 0; i < t1.NumElems; i++ {
		result.Data[i] = fn(t1.Data[i], t2.Data[i])
	}
	return result, nil
}

func unary(t *Tensor, fn func(v float32) float32) (*Tensor, error) {
	result, err := Zeros(t.Shape)
	if err != nil {
		return nil, err
	}

	for i := 0; i < t.NumElems; i++ {
		result.Data[i] = fn(t.Data[i])
	}
	return result, nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, "Add", func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, "Sub", func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, "Mul", func(a, b float32) float32 { return a * b })
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float32) (*Tensor, error) {
	return unary(t, func(v float32) float32 { return v * s })
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return unary(t, sigmoid)
}

func sigmoid(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}

// GELU applies the exact (erf based) Gaussian error linear unit.
func GELU(t *Tensor) (*Tensor, error) {
	return unary(t, func(v float32) float32 {
		x := float64(v)
		return float32(0.5 * x * (1.0 + math.Erf(x/math.Sqrt2)))
	})
}

func LeakyReLU(t *Tensor, negativeSlope float32) (*Tensor, error) {
	return unary(t, func(v float32) float32 {
		if v < 0 {
			return v * negativeSlope
		}
		return v
	})
}
