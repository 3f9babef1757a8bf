package graphio

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-mdgnn/graph"
)

// YAMLCodec handles the human-editable dataset format
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return FormatYAML.String()
}

// yamlDataset represents the YAML structure for a dataset
type yamlDataset struct {
	Name  string     `yaml:"name,omitempty"`
	Nodes []yamlNode `yaml:"nodes"`
	Edges []yamlEdge `yaml:"edges"`
}

type yamlNode struct {
	ID       int       `yaml:"id"`
	Features []float32 `yaml:"features,flow"`
	Target   []float32 `yaml:"target,flow,omitempty"`
}

type yamlEdge struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// Parse imports a dataset from YAML. Node ids must be exactly 0..N-1 in any
// order, and all nodes must share one feature width and one target width.
func (c *YAMLCodec) Parse(r io.Reader) (*Dataset, error) {
	var yd yamlDataset
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&yd); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	nodes := append([]yamlNode(nil), yd.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	var featureDim, targetDim int
	if len(nodes) > 0 {
		featureDim, targetDim = len(nodes[0].Features), len(nodes[0].Target)
	}

	features := make([]float32, 0, len(nodes)*featureDim)
	targets := make([]float32, 0, len(nodes)*targetDim)
	for i, n := range nodes {
		if n.ID != i {
			return nil, fmt.Errorf("%w: node ids must be 0..%d without gaps, found %d at position %d", graph.ErrInvalidGraph, len(nodes)-1, n.ID, i)
		}
		if len(n.Features) != featureDim {
			return nil, fmt.Errorf("%w: node %d has %d features, expected %d", graph.ErrInvalidGraph, n.ID, len(n.Features), featureDim)
		}
		if len(n.Target) != targetDim {
			return nil, fmt.Errorf("%w: node %d has %d targets, expected %d", graph.ErrInvalidGraph, n.ID, len(n.Target), targetDim)
		}
		features = append(features, n.Features...)
		targets = append(targets, n.Target...)
	}

	src := make([]int, len(yd.Edges))
	dst := make([]int, len(yd.Edges))
	for e, edge := range yd.Edges {
		src[e], dst[e] = edge.From, edge.To
	}

	return newDataset(yd.Name, len(nodes), src, dst, features, targets, featureDim, targetDim)
}

// Export exports a dataset to YAML
func (c *YAMLCodec) Export(d *Dataset, w io.Writer) error {
	if err := d.Validate(); err != nil {
		return err
	}

	yd := yamlDataset{
		Name:  d.Name,
		Nodes: make([]yamlNode, 0, d.NumNodes()),
		Edges: make([]yamlEdge, 0, d.Graph.NumEdges()),
	}

	for v := 0; v < d.NumNodes(); v++ {
		node := yamlNode{ID: v, Features: append([]float32(nil), d.Features.Row(v)...)}
		if d.Targets != nil {
			node.Target = append([]float32(nil), d.Targets.Row(v)...)
		}
		yd.Nodes = append(yd.Nodes, node)
	}

	src, dst := d.Graph.Edges()
	for e := range src {
		yd.Edges = append(yd.Edges, yamlEdge{From: src[e], To: dst[e]})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(yd); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}
