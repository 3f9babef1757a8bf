package tensor

import (
	"fmt"
	"math"
)

// Reshape returns a tensor sharing t's data with a new shape. One dimension
// may be -1 and is inferred.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	shape := make([]int, len(newShape))
	copy(shape, newShape)

	newNumElems := 1
	negOneIdx := -1

	for i, dim := range shape {
		if dim < 0 {
			if dim != -1 {
				return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
			}
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		} else {
			newNumElems *= dim
		}
	}

	if negOneIdx >= 0 {
		if newNumElems == 0 || t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v", t.NumElems, newShape)
		}
		shape[negOneIdx] = t.NumElems / newNumElems
		newNumElems *= shape[negOneIdx]
	}

	if len(shape) == 0 {
		newNumElems = 0
	}
	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, newShape, newNumElems)
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		Data:     t.Data,
		NumElems: t.NumElems,
	}, nil
}

// Squeeze drops dimension dim when it has size 1; otherwise t is returned.
func (t *Tensor) Squeeze(dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for tensor with %d dimensions", dim, len(t.Shape))
	}
	if t.Shape[dim] != 1 || len(t.Shape) == 1 {
		return t, nil
	}

	shape := make([]int, 0, len(t.Shape)-1)
	shape = append(shape, t.Shape[:dim]...)
	shape = append(shape, t.Shape[dim+1:]...)
	return t.Reshape(shape)
}

func (t *Tensor) Clone() (*Tensor, error) {
	if t.Data == nil && t.NumElems > 0 {
		return nil, fmt.Errorf("tensor has nil data")
	}

	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return NewTensor(t.Shape, data)
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

// Equal reports exact equality of shape and data.
func (t *Tensor) Equal(other *Tensor) bool {
	if !shapesEqual(t.Shape, other.Shape) {
		return false
	}
	for i := 0; i < t.NumElems; i++ {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}

// AllClose reports whether shapes match and every element differs by at most tol.
func (t *Tensor) AllClose(other *Tensor, tol float64) bool {
	if !shapesEqual(t.Shape, other.Shape) {
		return false
	}
	for i := 0; i < t.NumElems; i++ {
		if math.Abs(float64(t.Data[i])-float64(other.Data[i])) > tol {
			return false
		}
	}
	return true
}

// FirstNonFinite returns the index of the first NaN or Inf element, or -1.
func (t *Tensor) FirstNonFinite() int {
	for i, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}
