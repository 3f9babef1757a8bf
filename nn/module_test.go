package nn

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

func randomFeatures(t *testing.T, rows, cols int, seed int64) *tensor.Tensor {
	t.Helper()
	x, err := tensor.RandomNormal([]int{rows, cols}, 0, 1, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("RandomNormal failed: %v", err)
	}
	return x
}

func assertClose(t *testing.T, name string, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}

func TestPass(t *testing.T) {
	var nilPass *Pass
	if nilPass.IsTraining() || nilPass.stochastic() {
		t.Error("nil pass must behave as deterministic evaluation")
	}
	if EvalPass().IsTraining() {
		t.Error("EvalPass should not be training")
	}
	p := TrainPass(rand.New(rand.NewSource(1)))
	if !p.IsTraining() || !p.stochastic() {
		t.Error("TrainPass should be stochastic training")
	}
	if Training.String() != "Training" || Evaluation.String() != "Evaluation" {
		t.Error("unexpected Mode strings")
	}
}

func TestLinear(t *testing.T) {
	l, err := NewLinear(3, 2, true, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	bound := float32(math.Sqrt(6.0 / 5.0))
	for _, w := range l.weight.Data {
		if w < -bound || w > bound {
			t.Fatalf("weight %v outside Xavier bound %v", w, bound)
		}
	}
	if !reflect.DeepEqual(l.bias.Data, []float32{0, 0}) {
		t.Errorf("bias = %v, want zeros", l.bias.Data)
	}

	copy(l.weight.Data, []float32{1, 0, 0, 0, 1, 1})
	l.bias.Data[1] = 0.5
	x, _ := tensor.NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	y, err := l.Forward(nil, x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !reflect.DeepEqual(y.Data, []float32{1, 5.5, 4, 11.5}) {
		t.Errorf("Forward = %v", y.Data)
	}

	bad, _ := tensor.Zeros([]int{2, 4})
	if _, err := l.Forward(nil, bad); !errors.Is(err, layers.ErrDimension) {
		t.Errorf("Forward with wrong width error = %v, want ErrDimension", err)
	}

	named := l.NamedParameters()
	if len(named) != 2 || named[0].Name != "weight" || named[1].Name != "bias" {
		t.Errorf("NamedParameters = %+v", named)
	}

	noBias, _ := NewLinear(3, 2, false, rand.New(rand.NewSource(1)))
	if len(noBias.Parameters()) != 1 {
		t.Errorf("linear without bias has %d parameters", len(noBias.Parameters()))
	}
}

func TestLinearRequiresRandomSource(t *testing.T) {
	if _, err := NewLinear(4, 4, true, nil); !errors.Is(err, layers.ErrConfiguration) {
		t.Errorf("NewLinear with nil source error = %v, want ErrConfiguration", err)
	}
	if _, err := NewMaxwellDemonFilter(4, layers.DefaultFilterOptions(), nil); err == nil {
		t.Error("NewMaxwellDemonFilter should reject a nil source")
	}
}

func TestLinearConcurrentConstruction(t *testing.T) {
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = NewLinear(16, 16, true, rand.New(rand.NewSource(int64(i))))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
}

func TestLinearDeterministicInit(t *testing.T) {
	a, _ := NewLinear(4, 4, true, rand.New(rand.NewSource(3)))
	b, _ := NewLinear(4, 4, true, rand.New(rand.NewSource(3)))
	if !a.weight.Equal(b.weight) {
		t.Error("same seed should give identical weights")
	}
}

func TestDropout(t *testing.T) {
	if _, err := NewDropout(1.5); !errors.Is(err, layers.ErrConfiguration) {
		t.Errorf("NewDropout(1.5) error = %v, want ErrConfiguration", err)
	}

	d, _ := NewDropout(0.5)
	x, _ := tensor.Ones([]int{64, 16})

	t.Run("evaluation is identity", func(t *testing.T) {
		y, _ := d.Forward(&Pass{Mode: Evaluation, Rng: rand.New(rand.NewSource(1))}, x)
		if !y.Equal(x) {
			t.Error("evaluation dropout changed input")
		}
	})

	t.Run("training without random source is identity", func(t *testing.T) {
		y, _ := d.Forward(&Pass{Mode: Training}, x)
		if !y.Equal(x) {
			t.Error("deterministic training dropout changed input")
		}
	})

	t.Run("training masks and rescales", func(t *testing.T) {
		y, err := d.Forward(TrainPass(rand.New(rand.NewSource(1))), x)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		zeros := 0
		for _, v := range y.Data {
			switch v {
			case 0:
				zeros++
			case 2:
			default:
				t.Fatalf("unexpected value %v after dropout", v)
			}
		}
		if zeros == 0 || zeros == len(y.Data) {
			t.Errorf("dropped %d of %d elements", zeros, len(y.Data))
		}
	})

	t.Run("rate one drops everything", func(t *testing.T) {
		all, _ := NewDropout(1)
		y, _ := all.Forward(TrainPass(rand.New(rand.NewSource(1))), x)
		for _, v := range y.Data {
			if v != 0 {
				t.Fatal("rate 1 dropout kept an element")
			}
		}
	})
}

func TestLayerNorm(t *testing.T) {
	ln, err := NewLayerNorm(4, 0)
	if err != nil {
		t.Fatalf("NewLayerNorm failed: %v", err)
	}
	x, _ := tensor.NewTensor([]int{2, 4}, []float32{1, 2, 3, 4, -2, -2, -2, -2})
	y, err := ln.Forward(nil, x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// mean 2.5, variance 1.25
	s := float32(1 / math.Sqrt(1.25+1e-5))
	assertClose(t, "LayerNorm", y.Data, []float32{-1.5 * s, -0.5 * s, 0.5 * s, 1.5 * s, 0, 0, 0, 0}, 1e-5)

	if _, err := ln.Forward(nil, randomFeatures(t, 2, 3, 1)); !errors.Is(err, layers.ErrDimension) {
		t.Errorf("wrong width error = %v, want ErrDimension", err)
	}
}

func TestBatchNorm(t *testing.T) {
	bn, err := NewBatchNorm(2, 0, 0)
	if err != nil {
		t.Fatalf("NewBatchNorm failed: %v", err)
	}
	x, _ := tensor.NewTensor([]int{2, 2}, []float32{1, 10, 3, 30})

	t.Run("evaluation uses initial running statistics", func(t *testing.T) {
		y, _ := bn.Forward(EvalPass(), x)
		s := float32(1 / math.Sqrt(1+1e-5))
		assertClose(t, "BatchNorm eval", y.Data, []float32{1 * s, 10 * s, 3 * s, 30 * s}, 1e-5)
	})

	t.Run("training uses batch statistics", func(t *testing.T) {
		y, _ := bn.Forward(&Pass{Mode: Training}, x)
		// column means 2 and 20, variances 1 and 100
		assertClose(t, "BatchNorm train", y.Data, []float32{-1, -1, 1, 1}, 1e-4)

		mean, variance := bn.RunningStatistics()
		assertClose(t, "running mean", []float32{float32(mean[0]), float32(mean[1])}, []float32{0.2, 2}, 1e-6)
		assertClose(t, "running var", []float32{float32(variance[0]), float32(variance[1])}, []float32{1.0, 10.9}, 1e-5)
	})

	t.Run("empty batch", func(t *testing.T) {
		empty, _ := tensor.Zeros([]int{0, 2})
		y, err := bn.Forward(&Pass{Mode: Training}, empty)
		if err != nil || y.Rows() != 0 {
			t.Errorf("empty batch: %v, %v", y, err)
		}
	})
}

func TestNewNormalization(t *testing.T) {
	tests := []struct {
		kind   layers.NormalizationKind
		params int
	}{
		{layers.NormNone, 0},
		{layers.NormLayer, 2},
		{layers.NormBatch, 2},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			m, err := NewNormalization(tt.kind, 4)
			if err != nil {
				t.Fatalf("NewNormalization failed: %v", err)
			}
			if len(m.Parameters()) != tt.params {
				t.Errorf("got %d parameters, want %d", len(m.Parameters()), tt.params)
			}
		})
	}
	if _, err := NewNormalization(layers.NormalizationKind(9), 4); !errors.Is(err, layers.ErrConfiguration) {
		t.Errorf("unknown kind error = %v, want ErrConfiguration", err)
	}
}

func TestFeedForwardModule(t *testing.T) {
	ff, err := NewFeedForwardModule(4, 2, 1.5, 0, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewFeedForwardModule failed: %v", err)
	}
	if ff.InputSize() != 8 {
		t.Errorf("InputSize = %d, want 8", ff.InputSize())
	}

	y, err := ff.Forward(EvalPass(), randomFeatures(t, 5, 8, 2))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !reflect.DeepEqual(y.Shape, []int{5, 4}) {
		t.Errorf("output shape = %v, want [5 4]", y.Shape)
	}

	var names []string
	for _, p := range ff.NamedParameters() {
		names = append(names, p.Name)
	}
	want := []string{"linear_1.weight", "linear_1.bias", "linear_2.weight", "linear_2.bias"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
	if !reflect.DeepEqual(ff.linear1.weight.Shape, []int{6, 8}) {
		t.Errorf("linear_1 weight shape = %v, want [6 8]", ff.linear1.weight.Shape)
	}

	if _, err := ff.Forward(EvalPass(), randomFeatures(t, 5, 4, 2)); !errors.Is(err, layers.ErrDimension) {
		t.Errorf("wrong width error = %v, want ErrDimension", err)
	}
}
