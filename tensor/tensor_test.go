package tensor

import (
	"reflect"
	"testing"
)

func TestCalculateStrides(t *testing.T) {
	tests := []struct {
		shape    []int
		expected []int
	}{
		{[]int{}, []int{}},
		{[]int{5}, []int{1}},
		{[]int{2, 3}, []int{3, 1}},
		{[]int{2, 3, 4}, []int{12, 4, 1}},
		{[]int{1, 5, 1, 3}, []int{15, 3, 3, 1}},
	}

	for _, test := range tests {
		result := calculateStrides(test.shape)
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("calculateStrides(%v) = %v, expected %v", test.shape, result, test.expected)
		}
	}
}

func TestCalculateNumElements(t *testing.T) {
	tests := []struct {
		shape    []int
		expected int
	}{
		{[]int{}, 0},
		{[]int{5}, 5},
		{[]int{2, 3}, 6},
		{[]int{0, 4}, 0},
		{[]int{1, 5, 1, 3}, 15},
	}

	for _, test := range tests {
		result := calculateNumElements(test.shape)
		if result != test.expected {
			t.Errorf("calculateNumElements(%v) = %d, expected %d", test.shape, result, test.expected)
		}
	}
}

func TestValidateShape(t *testing.T) {
	tests := []struct {
		shape   []int
		wantErr bool
	}{
		{[]int{}, false},
		{[]int{5}, false},
		{[]int{0, 2}, false},
		{[]int{-1}, true},
		{[]int{2, -3}, true},
	}

	for _, test := range tests {
		err := validateShape(test.shape)
		if (err != nil) != test.wantErr {
			t.Errorf("validateShape(%v) error = %v, wantErr %v", test.shape, err, test.wantErr)
		}
	}
}

func TestRowAccess(t *testing.T) {
	x, err := NewTensor([]int{2, 2, 3}, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}

	if x.Rows() != 2 {
		t.Errorf("Rows() = %d, expected 2", x.Rows())
	}
	if x.RowWidth() != 6 {
		t.Errorf("RowWidth() = %d, expected 6", x.RowWidth())
	}
	if !reflect.DeepEqual(x.Row(1), []float32{6, 7, 8, 9, 10, 11}) {
		t.Errorf("Row(1) = %v", x.Row(1))
	}

	x.Row(0)[0] = 42
	if x.Data[0] != 42 {
		t.Error("Row should alias tensor data")
	}
}
