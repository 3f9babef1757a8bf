package graphio

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-mdgnn/tensor"
)

type yamlPredictions struct {
	Dataset string           `yaml:"dataset,omitempty"`
	RunID   string           `yaml:"run_id,omitempty"`
	Nodes   []yamlPrediction `yaml:"nodes"`
}

type yamlPrediction struct {
	ID     int       `yaml:"id"`
	Output []float32 `yaml:"output,flow"`
}

// ExportPredictions writes one output row per node as YAML. A 1D tensor
// gives single-value rows.
func ExportPredictions(w io.Writer, dataset, runID string, predictions *tensor.Tensor) error {
	if predictions == nil || predictions.Dim() == 0 || predictions.Dim() > 2 {
		return fmt.Errorf("predictions must be a 1D or 2D tensor")
	}

	yp := yamlPredictions{
		Dataset: dataset,
		RunID:   runID,
		Nodes:   make([]yamlPrediction, predictions.Rows()),
	}
	for v := range yp.Nodes {
		row := predictions.Row(v)
		yp.Nodes[v] = yamlPrediction{ID: v, Output: append([]float32(nil), row...)}
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(yp); err != nil {
		return fmt.Errorf("failed to encode predictions: %w", err)
	}
	return encoder.Close()
}
