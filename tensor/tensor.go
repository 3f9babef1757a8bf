package tensor

import (
	"fmt"
)

// Tensor is a dense, row-major float32 array. Node features are [N, F],
// edge signals are [E, H] and per-head node features are [N, R, H].
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

// Rows returns the size of the leading dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// RowWidth returns the number of elements per leading-dimension entry.
func (t *Tensor) RowWidth() int {
	if len(t.Shape) == 0 {
		return 0
	}
	width := 1
	for _, dim := range t.Shape[1:] {
		width *= dim
	}
	return width
}

// Row returns the backing slice for row i. The slice aliases the tensor data.
func (t *Tensor) Row(i int) []float32 {
	w := t.RowWidth()
	return t.Data[i*w : (i+1)*w]
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

// validateShape accepts zero-sized dimensions: a graph without edges still
// produces well-formed [0, H] edge signals.
func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim < 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be non-negative", i, dim)
		}
	}
	return nil
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}
