// Package config loads and validates the YAML configuration of the mdgnn
// tools.
//
// Config file locations (priority order):
//  1. $MDGNN_CONFIG
//  2. ./mdgnn.yaml
//  3. $XDG_CONFIG_HOME/mdgnn/config.yaml
//  4. ~/.config/mdgnn/config.yaml
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/layers"
)

// Defaults of the reference training script
const (
	DefaultNumLayers           = 32
	DefaultHiddenDim           = 128
	DefaultHiddenDimMultiplier = 1.0
	DefaultNumHeads            = 8
	DefaultNormalization       = "LayerNorm"
	DefaultDropout             = float32(0.2)
	DefaultChaosInit           = float32(0.1)
	DefaultInDegreeGuard       = "self_loops"
	DefaultDatabasePath        = "./mdgnn.db"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns the reference model configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func boolPtr(b bool) *bool          { return &b }
func float32Ptr(f float32) *float32 { return &f }

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}

	m := &c.Model
	if m.NumLayers == 0 {
		m.NumLayers = DefaultNumLayers
	}
	if m.HiddenDim == 0 {
		m.HiddenDim = DefaultHiddenDim
	}
	if m.HiddenDimMultiplier == 0 {
		m.HiddenDimMultiplier = DefaultHiddenDimMultiplier
	}
	if m.NumHeads == 0 {
		m.NumHeads = DefaultNumHeads
	}
	if m.Normalization == "" {
		m.Normalization = DefaultNormalization
	}
	if m.Dropout == nil {
		m.Dropout = float32Ptr(DefaultDropout)
	}
	if m.UseFilters == nil {
		m.UseFilters = boolPtr(true)
	}
	if m.UseCombinations == nil {
		m.UseCombinations = boolPtr(true)
	}
	if m.ChaosInit == nil {
		m.ChaosInit = float32Ptr(DefaultChaosInit)
	}

	if c.Graph.InDegreeGuard == "" {
		c.Graph.InDegreeGuard = DefaultInDegreeGuard
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
}

// Validate checks every option and fails fast on misconfiguration. All
// errors wrap layers.ErrConfiguration or layers.ErrDimension.
func (c *Config) Validate() error {
	m := c.Model
	if m.NumLayers < 1 {
		return fmt.Errorf("%w: num_layers must be at least 1, got %d", layers.ErrConfiguration, m.NumLayers)
	}
	if m.HiddenDim < 1 {
		return fmt.Errorf("%w: hidden_dim must be positive, got %d", layers.ErrConfiguration, m.HiddenDim)
	}
	if m.NumberOfEdges < 0 {
		return fmt.Errorf("%w: number_of_edges must not be negative, got %d", layers.ErrConfiguration, m.NumberOfEdges)
	}
	if m.LegacyEdgeProjection {
		return fmt.Errorf("%w: legacy_edge_projection is not supported", layers.ErrConfiguration)
	}
	if _, err := layers.ParseNormalization(m.Normalization); err != nil {
		return err
	}
	if _, err := c.Guard(); err != nil {
		return err
	}

	opts, err := c.FilterOptions()
	if err != nil {
		return err
	}
	return opts.Validate(m.HiddenDim)
}

// Guard returns the configured in-degree guard
func (c *Config) Guard() (graph.Guard, error) {
	guard, err := graph.ParseGuard(c.Graph.InDegreeGuard)
	if err != nil {
		return guard, fmt.Errorf("%w: %v", layers.ErrConfiguration, err)
	}
	return guard, nil
}

// FilterOptions returns the per-layer options of the configured model
func (c *Config) FilterOptions() (layers.FilterOptions, error) {
	m := c.Model
	if m.Dropout == nil || m.UseFilters == nil || m.UseCombinations == nil || m.ChaosInit == nil {
		return layers.FilterOptions{}, fmt.Errorf("%w: model options are incomplete", layers.ErrConfiguration)
	}
	return layers.FilterOptions{
		NumHeads:            m.NumHeads,
		HiddenDimMultiplier: m.HiddenDimMultiplier,
		Dropout:             *m.Dropout,
		UseFilters:          *m.UseFilters,
		Aggregation:         layers.AggregationFromFlag(*m.UseCombinations),
		ChaosInit:           *m.ChaosInit,
	}, nil
}

// ModelSpec validates the configuration and compiles the stacked model for
// inputDim node features and outputDim predictions per node
func (c *Config) ModelSpec(inputDim, outputDim int) (*layers.ModelSpec, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	norm, err := layers.ParseNormalization(c.Model.Normalization)
	if err != nil {
		return nil, err
	}
	opts, err := c.FilterOptions()
	if err != nil {
		return nil, err
	}

	return layers.NewStackedModelSpec(inputDim, outputDim, layers.StackedOptions{
		NumLayers:     c.Model.NumLayers,
		HiddenDim:     c.Model.HiddenDim,
		Normalization: norm,
		Filter:        opts,
	})
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	m := c.Model
	summary := fmt.Sprintf("Model: %d layers, hidden %d x %g, %d heads, %s, dropout %g\n",
		m.NumLayers, m.HiddenDim, m.HiddenDimMultiplier, m.NumHeads, m.Normalization, derefFloat(m.Dropout))
	summary += fmt.Sprintf("Filters: %v, Combinations: %v, Chaos: %g, Seed: %d\n",
		derefBool(m.UseFilters), derefBool(m.UseCombinations), derefFloat(m.ChaosInit), m.Seed)
	summary += fmt.Sprintf("Graph guard: %s, Database: %s", c.Graph.InDegreeGuard, c.Database.Path)
	return summary
}

func derefBool(b *bool) bool {
	return b != nil && *b
}

func derefFloat(f *float32) float32 {
	if f == nil {
		return 0
	}
	return *f
}
