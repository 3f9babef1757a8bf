package nn

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

// path: 0->1, 1->0, 1->2, 2->1
func newPath(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.FromEdgeList(3, [][2]int{{0, 1}, {1, 0}, {1, 2}, {2, 1}})
	if err != nil {
		t.Fatalf("FromEdgeList failed: %v", err)
	}
	return g
}

func randomGraph(t *testing.T, nodes, edges int, seed int64) *graph.Graph {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	src := make([]int, edges)
	dst := make([]int, edges)
	for e := range src {
		src[e] = rng.Intn(nodes)
		dst[e] = rng.Intn(nodes)
	}
	g, err := graph.New(nodes, src, dst)
	if err != nil {
		t.Fatalf("graph.New failed: %v", err)
	}
	return g
}

func filterOptions(heads int, useFilters, combined bool) layers.FilterOptions {
	opts := layers.DefaultFilterOptions()
	opts.NumHeads = heads
	opts.Dropout = 0
	opts.UseFilters = useFilters
	opts.Aggregation = layers.AggregationFromFlag(combined)
	return opts
}

func TestAttentionProbabilitiesSumToOne(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		g := randomGraph(t, 12, 40, seed)
		scorer, err := NewAttentionScorer(8, 4, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("NewAttentionScorer failed: %v", err)
		}

		probs, err := scorer.Forward(EvalPass(), g, randomFeatures(t, 12, 8, seed))
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if !reflect.DeepEqual(probs.Shape, []int{40, 4}) {
			t.Fatalf("probabilities shape = %v, want [40 4]", probs.Shape)
		}

		for v := 0; v < g.NumNodes(); v++ {
			incoming := g.IncomingEdges(v)
			if len(incoming) == 0 {
				continue
			}
			for h := 0; h < 4; h++ {
				var sum float64
				for _, e := range incoming {
					sum += float64(probs.Row(e)[h])
				}
				if math.Abs(sum-1) > 1e-5 {
					t.Errorf("seed %d node %d head %d: probabilities sum to %v", seed, v, h, sum)
				}
			}
		}
	}
}

func TestAttentionScorerHeadsMustDivideWidth(t *testing.T) {
	if _, err := NewAttentionScorer(6, 4, nil); !errors.Is(err, layers.ErrDimension) {
		t.Errorf("error = %v, want ErrDimension", err)
	}
}

func TestAttentionLogitsUseLeakyReLU(t *testing.T) {
	g := newPath(t)
	scorer, _ := NewAttentionScorer(2, 1, rand.New(rand.NewSource(1)))
	copy(scorer.attnU.weight.Data, []float32{1, 0})
	copy(scorer.attnV.weight.Data, []float32{0, 1})
	x, _ := tensor.NewTensor([]int{3, 2}, []float32{1, -5, -2, 1, 0, 0})

	logits, err := scorer.Logits(nil, g, x)
	if err != nil {
		t.Fatalf("Logits failed: %v", err)
	}
	// u = [1, -2, 0], v = [-5, 1, 0]
	assertClose(t, "logits", logits.Data, []float32{1 + 1, -2 * 0.2 + -5*0.2, -2 * 0.2, 1}, 1e-6)
}

func TestEnergyGateRange(t *testing.T) {
	g := randomGraph(t, 10, 30, 4)
	gate, err := NewEnergyGate(8, 2, 0.1, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("NewEnergyGate failed: %v", err)
	}

	for _, p := range []*Pass{EvalPass(), TrainPass(rand.New(rand.NewSource(9)))} {
		values, err := gate.Forward(p, g, randomFeatures(t, 10, 8, 5))
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if !reflect.DeepEqual(values.Shape, []int{30, 2}) {
			t.Fatalf("gate shape = %v, want [30 2]", values.Shape)
		}
		for i, v := range values.Data {
			if !(v > 0 && v < 1) {
				t.Fatalf("gate[%d] = %v outside (0, 1)", i, v)
			}
		}
	}
}

func TestEnergyGateDifferential(t *testing.T) {
	g := newPath(t)
	gate, _ := NewEnergyGate(1, 1, 0.1, rand.New(rand.NewSource(1)))
	gate.demon.weight.Data[0] = 1
	x, _ := tensor.NewTensor([]int{3, 1}, []float32{0, 1, 3})

	energy, err := gate.Energy(nil, g, x)
	if err != nil {
		t.Fatalf("Energy failed: %v", err)
	}
	// neighbor means: node0 <- 1, node1 <- (0+3)/2, node2 <- 1
	assertClose(t, "energy", energy.Data, []float32{-1, -0.5, 2}, 1e-6)

	values, _ := gate.Forward(nil, g, x)
	want := []float32{
		sigmoid32(-0.5 - -1),
		sigmoid32(-1 - -0.5),
		sigmoid32(2 - -0.5),
		sigmoid32(-0.5 - 2),
	}
	assertClose(t, "gate", values.Data, want, 1e-6)
}

func sigmoid32(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func TestEnergyGateChaosNoise(t *testing.T) {
	g := newPath(t)
	gate, _ := NewEnergyGate(4, 2, 0.5, rand.New(rand.NewSource(1)))
	x := randomFeatures(t, 3, 4, 2)

	clean, _ := gate.Energy(EvalPass(), g, x)
	again, _ := gate.Energy(EvalPass(), g, x)
	if !clean.Equal(again) {
		t.Error("energy without a random source should be deterministic")
	}

	noisyA, _ := gate.Energy(&Pass{Rng: rand.New(rand.NewSource(3))}, g, x)
	noisyB, _ := gate.Energy(&Pass{Rng: rand.New(rand.NewSource(3))}, g, x)
	if !noisyA.Equal(noisyB) {
		t.Error("same seed should replay the same perturbation")
	}
	if noisyA.Equal(clean) {
		t.Error("chaos perturbation had no effect")
	}

	gate.chaos.Data[0] = 0
	silent, _ := gate.Energy(&Pass{Rng: rand.New(rand.NewSource(3))}, g, x)
	if !silent.AllClose(clean, 1e-6) {
		t.Error("zero chaos should not perturb the energy")
	}
}

func TestAggregatorWidths(t *testing.T) {
	g := newPath(t)
	x := randomFeatures(t, 3, 4, 1)
	probs, _ := tensor.Full([]int{4, 2}, 0.5)

	tests := []struct {
		mode  layers.AggregationMode
		width int
	}{
		{layers.AggregationSimple, 8},
		{layers.AggregationCombined, 16},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			agg, err := NewMessageAggregator(tt.mode, 2)
			if err != nil {
				t.Fatalf("NewMessageAggregator failed: %v", err)
			}
			out, err := agg.Aggregate(g, x, probs)
			if err != nil {
				t.Fatalf("Aggregate failed: %v", err)
			}
			if !reflect.DeepEqual(out.Shape, []int{3, tt.width}) {
				t.Errorf("shape = %v, want [3 %d]", out.Shape, tt.width)
			}
			if agg.OutputMultiplier()*4 != tt.width {
				t.Errorf("OutputMultiplier = %d", agg.OutputMultiplier())
			}
		})
	}

	if _, err := NewMessageAggregator(layers.AggregationMode(5), 2); !errors.Is(err, layers.ErrConfiguration) {
		t.Errorf("unknown mode error = %v, want ErrConfiguration", err)
	}
}

func TestAggregatorCombinedBlocks(t *testing.T) {
	g := newPath(t)
	x, _ := tensor.NewTensor([]int{3, 2}, []float32{1, 2, 3, 4, 5, 6})
	// head 0 owns feature 0, head 1 owns feature 1
	probs, _ := tensor.NewTensor([]int{4, 2}, []float32{
		1, 0, // 0->1
		1, 1, // 1->0
		0, 1, // 1->2
		1, 0, // 2->1
	})

	agg, _ := NewMessageAggregator(layers.AggregationCombined, 2)
	out, err := agg.Aggregate(g, x, probs)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	// out degrees: 1, 2, 1
	w01 := float32(1 / math.Sqrt(2))
	want := [][]float32{
		{1, 2, 3, 4, 3, 4, 3 * w01, 4 * w01},
		{3, 4, 1 + 5, 0, 3, 4, w01 * 6, w01 * 8},
		{5, 6, 0, 4, 3, 4, 3 * w01, 4 * w01},
	}
	for i, row := range want {
		assertClose(t, "combined row", out.Row(i), row, 1e-6)
	}
}

func TestFilterWithoutGateMatchesUnitGate(t *testing.T) {
	g := randomGraph(t, 9, 25, 11)
	x := randomFeatures(t, 9, 8, 12)

	for _, combined := range []bool{false, true} {
		f, err := NewMaxwellDemonFilter(8, filterOptions(2, false, combined), rand.New(rand.NewSource(13)))
		if err != nil {
			t.Fatalf("NewMaxwellDemonFilter failed: %v", err)
		}
		if f.UsesFilters() {
			t.Fatal("filter should be disabled")
		}

		got, err := f.Forward(EvalPass(), g, x)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		projected, _ := f.fc.Forward(nil, x)
		probs, _ := f.attention.Forward(nil, g, projected)
		ones, _ := tensor.Ones(probs.Shape)
		gated, _ := tensor.Mul(probs, ones)
		combinedInput, _ := f.aggregator.Aggregate(g, projected, gated)
		want, _ := f.ffn.Forward(nil, combinedInput)

		if !got.Equal(want) {
			t.Errorf("combined=%v: output differs from unit-gate computation", combined)
		}
	}
}

func TestFilterThreeNodeLocality(t *testing.T) {
	g := newPath(t)
	f, err := NewMaxwellDemonFilter(4, filterOptions(2, false, false), rand.New(rand.NewSource(21)))
	if err != nil {
		t.Fatalf("NewMaxwellDemonFilter failed: %v", err)
	}

	x := randomFeatures(t, 3, 4, 22)
	out, err := f.Forward(EvalPass(), g, x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !reflect.DeepEqual(out.Shape, []int{3, 4}) {
		t.Fatalf("output shape = %v, want [3 4]", out.Shape)
	}

	perturbed, _ := x.Clone()
	for i := range perturbed.Row(2) {
		perturbed.Row(2)[i] += 10
	}
	out2, err := f.Forward(EvalPass(), g, perturbed)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if !reflect.DeepEqual(out.Row(0), out2.Row(0)) {
		t.Errorf("node 0 changed when node 2 was perturbed: %v vs %v", out.Row(0), out2.Row(0))
	}
	if reflect.DeepEqual(out.Row(1), out2.Row(1)) {
		t.Error("node 1 should depend on its in-neighbor node 2")
	}
}

func TestFilterZeroInDegree(t *testing.T) {
	// node 0 has no incoming edges
	g, _ := graph.FromEdgeList(4, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 1}})
	x := randomFeatures(t, 4, 8, 3)

	for _, guard := range []graph.Guard{graph.GuardNone, graph.GuardSelfLoops, graph.GuardGlobalNode} {
		t.Run(guard.String(), func(t *testing.T) {
			gg, xx, err := guard.Apply(g, x)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			f, err := NewMaxwellDemonFilter(8, filterOptions(4, true, true), rand.New(rand.NewSource(1)))
			if err != nil {
				t.Fatalf("NewMaxwellDemonFilter failed: %v", err)
			}
			out, err := f.Forward(TrainPass(rand.New(rand.NewSource(2))), gg, xx)
			if err != nil {
				t.Fatalf("Forward failed: %v", err)
			}
			if idx := out.FirstNonFinite(); idx >= 0 {
				t.Errorf("non-finite output at %d", idx)
			}
		})
	}
}

func TestFilterRejectsBadInput(t *testing.T) {
	f, _ := NewMaxwellDemonFilter(4, filterOptions(2, true, true), rand.New(rand.NewSource(1)))
	g := newPath(t)

	if _, err := f.Forward(nil, g, randomFeatures(t, 3, 6, 1)); !errors.Is(err, layers.ErrDimension) {
		t.Errorf("wrong width error = %v, want ErrDimension", err)
	}
	if _, err := f.Forward(nil, g, randomFeatures(t, 5, 4, 1)); !errors.Is(err, graph.ErrInvalidGraph) {
		t.Errorf("wrong row count error = %v, want ErrInvalidGraph", err)
	}
	if _, err := f.Forward(nil, nil, randomFeatures(t, 3, 4, 1)); !errors.Is(err, graph.ErrInvalidGraph) {
		t.Errorf("nil graph error = %v, want ErrInvalidGraph", err)
	}
	if _, err := NewMaxwellDemonFilter(6, filterOptions(4, true, true), nil); !errors.Is(err, layers.ErrDimension) {
		t.Errorf("indivisible heads error = %v, want ErrDimension", err)
	}
}

func TestResidualWrapperHasNoSkip(t *testing.T) {
	g := newPath(t)
	f, _ := NewMaxwellDemonFilter(4, filterOptions(2, true, false), rand.New(rand.NewSource(5)))
	wrapper, err := NewResidualWrapper(layers.NormLayer, 4, f)
	if err != nil {
		t.Fatalf("NewResidualWrapper failed: %v", err)
	}

	x := randomFeatures(t, 3, 4, 6)
	got, err := wrapper.Forward(EvalPass(), g, x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	normalized, _ := wrapper.norm.Forward(nil, x)
	want, _ := f.Forward(EvalPass(), g, normalized)
	if !got.Equal(want) {
		t.Error("wrapper output should be the wrapped layer output on normalized input")
	}
}

func TestNamedParametersMatchCompiledSpec(t *testing.T) {
	for _, useFilters := range []bool{true, false} {
		opts := filterOptions(2, useFilters, true)
		spec, err := layers.NewModelBuilder(8).AddResidualBlock(layers.NormBatch, opts, "block").Compile()
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}

		f, _ := NewMaxwellDemonFilter(8, opts, rand.New(rand.NewSource(1)))
		wrapper, _ := NewResidualWrapper(layers.NormBatch, 8, f)

		named := wrapper.NamedParameters()
		layer := spec.Layers[0]
		if len(named) != len(layer.ParameterNames) {
			t.Fatalf("filters=%v: %d parameters, compiled %d", useFilters, len(named), len(layer.ParameterNames))
		}
		for i, p := range named {
			if p.Name != layer.ParameterNames[i] {
				t.Errorf("parameter %d name = %s, want %s", i, p.Name, layer.ParameterNames[i])
			}
			if !reflect.DeepEqual(p.Tensor.Shape, layer.ParameterShapes[i]) {
				t.Errorf("parameter %s shape = %v, want %v", p.Name, p.Tensor.Shape, layer.ParameterShapes[i])
			}
		}
	}
}
