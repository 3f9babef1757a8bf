package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/layers"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.NumLayers != 32 || cfg.Model.HiddenDim != 128 || cfg.Model.NumHeads != 8 {
		t.Errorf("unexpected model defaults: %+v", cfg.Model)
	}
	if cfg.Model.Normalization != "LayerNorm" {
		t.Errorf("Normalization = %q, want LayerNorm", cfg.Model.Normalization)
	}
	if *cfg.Model.Dropout != 0.2 || *cfg.Model.ChaosInit != 0.1 {
		t.Errorf("Dropout = %v, ChaosInit = %v", *cfg.Model.Dropout, *cfg.Model.ChaosInit)
	}
	if !*cfg.Model.UseFilters || !*cfg.Model.UseCombinations {
		t.Error("filters and combinations should default to enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}

	guard, err := cfg.Guard()
	if err != nil || guard != graph.GuardSelfLoops {
		t.Errorf("Guard() = %v, %v; want self_loops", guard, err)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mdgnn.yaml")
	content := `model:
  num_layers: 2
  hidden_dim: 16
  num_heads: 4
  normalization: BatchNorm
  dropout: 0
  use_filters: false
  seed: 7
graph:
  in_degree_guard: global_node
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, loadedPath, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loadedPath != path {
		t.Errorf("path = %q, want %q", loadedPath, path)
	}

	m := cfg.Model
	if m.NumLayers != 2 || m.HiddenDim != 16 || m.NumHeads != 4 || m.Seed != 7 {
		t.Errorf("unexpected model config: %+v", m)
	}
	if *m.Dropout != 0 {
		t.Errorf("explicit zero dropout was overwritten: %v", *m.Dropout)
	}
	if *m.UseFilters {
		t.Error("explicit use_filters: false was overwritten")
	}
	if !*m.UseCombinations {
		t.Error("use_combinations should default to true")
	}
	if m.HiddenDimMultiplier != 1 {
		t.Errorf("HiddenDimMultiplier = %v, want 1", m.HiddenDimMultiplier)
	}

	opts, err := cfg.FilterOptions()
	if err != nil {
		t.Fatalf("FilterOptions failed: %v", err)
	}
	if opts.UseFilters || opts.Aggregation != layers.AggregationCombined {
		t.Errorf("unexpected filter options %+v", opts)
	}

	guard, _ := cfg.Guard()
	if guard != graph.GuardGlobalNode {
		t.Errorf("Guard = %v, want global_node", guard)
	}
}

func TestLoadFromPathErrors(t *testing.T) {
	if _, _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("model: [not, a, map"), 0644)
	if _, _, err := LoadFromPath(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Model.NumLayers = 3
	*cfg.Model.UseCombinations = false
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, _, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Model.NumLayers != 3 || *loaded.Model.UseCombinations {
		t.Errorf("round trip lost values: %+v", loaded.Model)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"zero layers", func(c *Config) { c.Model.NumLayers = -1 }, layers.ErrConfiguration},
		{"heads do not divide width", func(c *Config) { c.Model.HiddenDim = 10; c.Model.NumHeads = 4 }, layers.ErrDimension},
		{"unknown normalization", func(c *Config) { c.Model.Normalization = "GroupNorm" }, layers.ErrConfiguration},
		{"dropout out of range", func(c *Config) { *c.Model.Dropout = 1.2 }, layers.ErrConfiguration},
		{"unknown guard", func(c *Config) { c.Graph.InDegreeGuard = "virtual" }, layers.ErrConfiguration},
		{"legacy projection", func(c *Config) { c.Model.LegacyEdgeProjection = true }, layers.ErrConfiguration},
		{"negative edge count", func(c *Config) { c.Model.NumberOfEdges = -3 }, layers.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := cfg.ModelSpec(3, 1); err == nil {
				t.Error("ModelSpec should fail on an invalid config")
			}
		})
	}
}

func TestModelSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.NumLayers = 2
	cfg.Model.HiddenDim = 8
	cfg.Model.NumHeads = 2

	spec, err := cfg.ModelSpec(5, 3)
	if err != nil {
		t.Fatalf("ModelSpec failed: %v", err)
	}
	if spec.OutputShape[1] != 3 || spec.InputShape[1] != 5 {
		t.Errorf("shapes %v -> %v", spec.InputShape, spec.OutputShape)
	}
	// input, dropout, act, 2 blocks, concat, norm, output
	if len(spec.Layers) != 8 {
		t.Errorf("got %d layers, want 8", len(spec.Layers))
	}
}

func TestFindConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	os.WriteFile(path, []byte("model:\n  num_layers: 1\n"), 0644)

	t.Setenv(EnvConfigPath, path)
	if got := FindConfigPath(); got != path {
		t.Errorf("FindConfigPath() = %q, want %q", got, path)
	}

	cfg, found, err := Load()
	if err != nil || found != path || cfg.Model.NumLayers != 1 {
		t.Errorf("Load() = %+v, %q, %v", cfg, found, err)
	}
}

func TestSummary(t *testing.T) {
	summary := DefaultConfig().Summary()
	for _, want := range []string{"32 layers", "LayerNorm", "self_loops"} {
		if !strings.Contains(summary, want) {
			t.Errorf("Summary() missing %q: %s", want, summary)
		}
	}
}
