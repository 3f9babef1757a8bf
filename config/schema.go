package config

// Config is the on-disk configuration of a Maxwell-Demon network and the
// data pipeline around it
type Config struct {
	Version  int            `yaml:"version"`
	Model    ModelConfig    `yaml:"model"`
	Graph    GraphConfig    `yaml:"graph"`
	Database DatabaseConfig `yaml:"database"`
}

// ModelConfig holds the network options. Pointer fields distinguish an
// explicit false or zero from an omitted key.
type ModelConfig struct {
	NumLayers           int      `yaml:"num_layers"`
	HiddenDim           int      `yaml:"hidden_dim"`
	HiddenDimMultiplier float64  `yaml:"hidden_dim_multiplier"`
	NumHeads            int      `yaml:"num_heads"`
	Normalization       string   `yaml:"normalization"`
	Dropout             *float32 `yaml:"dropout,omitempty"`
	UseFilters          *bool    `yaml:"use_filters,omitempty"`
	UseCombinations     *bool    `yaml:"use_combinations,omitempty"`
	ChaosInit           *float32 `yaml:"chaos_init,omitempty"`
	Seed                int64    `yaml:"seed"`

	// NumberOfEdges sized a fixed 891-input projection that no forward
	// path uses. It is accepted for compatibility and otherwise ignored.
	NumberOfEdges        int  `yaml:"number_of_edges,omitempty"`
	LegacyEdgeProjection bool `yaml:"legacy_edge_projection,omitempty"`
}

// GraphConfig controls graph preparation before the forward pass
type GraphConfig struct {
	// InDegreeGuard is one of none, self_loops or global_node
	InDegreeGuard string `yaml:"in_degree_guard"`
}

// DatabaseConfig locates the prediction store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}
