// Package graphio reads and writes node-feature graph datasets. Datasets
// come in a human-editable YAML form and a compact protobuf wire form.
package graphio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tsawler/go-mdgnn/graph"
	"github.com/tsawler/go-mdgnn/tensor"
)

// Format defines the serialization format
type Format int

const (
	FormatYAML Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatBinary:
		return "bin"
	default:
		return "unknown"
	}
}

// ParseFormat maps a format name or file extension to a Format
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "bin", "binary", "pb":
		return FormatBinary, nil
	default:
		return FormatYAML, fmt.Errorf("unsupported dataset format %q (expected yaml or bin)", name)
	}
}

// Dataset is one graph with per-node input features and optional targets
type Dataset struct {
	Name     string
	Graph    *graph.Graph
	Features *tensor.Tensor // [N, input_dim]
	Targets  *tensor.Tensor // [N, target_dim] or nil
}

// NumNodes returns the number of nodes in the dataset graph
func (d *Dataset) NumNodes() int {
	return d.Graph.NumNodes()
}

// FeatureDim returns the width of the input features
func (d *Dataset) FeatureDim() int {
	return d.Features.RowWidth()
}

// Validate checks that features and targets line up with the graph
func (d *Dataset) Validate() error {
	if d.Graph == nil {
		return fmt.Errorf("%w: dataset %q has no graph", graph.ErrInvalidGraph, d.Name)
	}
	if d.Features == nil || d.Features.Dim() != 2 {
		return fmt.Errorf("%w: dataset %q features must be a 2D tensor", graph.ErrInvalidGraph, d.Name)
	}
	if d.Features.Rows() != d.Graph.NumNodes() {
		return fmt.Errorf("%w: dataset %q has %d feature rows for %d nodes", graph.ErrInvalidGraph, d.Name, d.Features.Rows(), d.Graph.NumNodes())
	}
	if d.Targets != nil && (d.Targets.Dim() != 2 || d.Targets.Rows() != d.Graph.NumNodes()) {
		return fmt.Errorf("%w: dataset %q targets have shape %v for %d nodes", graph.ErrInvalidGraph, d.Name, d.Targets.Shape, d.Graph.NumNodes())
	}
	return nil
}

// Codec converts datasets to and from a byte stream
type Codec interface {
	Parse(r io.Reader) (*Dataset, error)
	Export(d *Dataset, w io.Writer) error
	Format() string
}

// CodecFor returns the codec of a format
func CodecFor(format Format) (Codec, error) {
	switch format {
	case FormatYAML:
		return NewYAMLCodec(), nil
	case FormatBinary:
		return NewBinaryCodec(), nil
	default:
		return nil, fmt.Errorf("unsupported dataset format: %s", format.String())
	}
}

// LoadFile reads a dataset from path
func LoadFile(path string, format Format) (*Dataset, error) {
	codec, err := CodecFor(format)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	d, err := codec.Parse(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return d, nil
}

// SaveFile writes a dataset to path
func SaveFile(d *Dataset, path string, format Format) error {
	codec, err := CodecFor(format)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := codec.Export(d, w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write dataset: %w", err)
	}
	return f.Close()
}

// newDataset checks the payload sizes against the declared dimensions before
// building the graph, so a short payload cannot claim an arbitrarily large
// node count.
func newDataset(name string, numNodes int, src, dst []int, features, targets []float32, featureDim, targetDim int) (*Dataset, error) {
	if numNodes < 0 || featureDim < 0 || targetDim < 0 {
		return nil, fmt.Errorf("%w: negative dataset dimensions (%d nodes, width %d, targets %d)", graph.ErrInvalidGraph, numNodes, featureDim, targetDim)
	}
	if numNodes > 0 && featureDim == 0 {
		return nil, fmt.Errorf("%w: %d nodes without features", graph.ErrInvalidGraph, numNodes)
	}
	if int64(len(features)) != int64(numNodes)*int64(featureDim) {
		return nil, fmt.Errorf("%w: %d feature values for %d nodes of width %d", graph.ErrInvalidGraph, len(features), numNodes, featureDim)
	}
	if targetDim > 0 && int64(len(targets)) != int64(numNodes)*int64(targetDim) {
		return nil, fmt.Errorf("%w: %d target values for %d nodes of width %d", graph.ErrInvalidGraph, len(targets), numNodes, targetDim)
	}

	g, err := graph.New(numNodes, src, dst)
	if err != nil {
		return nil, err
	}

	x, err := tensor.NewTensor([]int{numNodes, featureDim}, features)
	if err != nil {
		return nil, err
	}

	d := &Dataset{Name: name, Graph: g, Features: x}
	if targetDim > 0 {
		if d.Targets, err = tensor.NewTensor([]int{numNodes, targetDim}, targets); err != nil {
			return nil, err
		}
	}
	return d, nil
}
