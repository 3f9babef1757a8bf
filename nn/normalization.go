package nn

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

const (
	defaultEps      = 1e-5
	defaultMomentum = 0.1
)

// NewNormalization builds the normalization module selected by kind over
// numFeatures columns
func NewNormalization(kind layers.NormalizationKind, numFeatures int) (Module, error) {
	switch kind {
	case layers.NormNone:
		return &Identity{}, nil
	case layers.NormLayer:
		return NewLayerNorm(numFeatures, defaultEps)
	case layers.NormBatch:
		return NewBatchNorm(numFeatures, defaultEps, defaultMomentum)
	default:
		return nil, fmt.Errorf("%w: unknown normalization %d", layers.ErrConfiguration, int(kind))
	}
}

func newAffine(numFeatures int) (gamma, beta *tensor.Tensor, err error) {
	if numFeatures <= 0 {
		return nil, nil, fmt.Errorf("%w: normalization width must be positive, got %d", layers.ErrDimension, numFeatures)
	}
	// Initialize gamma to ones
	gamma, err = tensor.Ones([]int{numFeatures})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gamma tensor: %w", err)
	}
	// Initialize beta to zeros
	beta, err = tensor.Zeros([]int{numFeatures})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create beta tensor: %w", err)
	}
	return gamma, beta, nil
}

func checkFeatures(name string, input *tensor.Tensor, numFeatures int) error {
	if len(input.Shape) != 2 {
		return fmt.Errorf("%w: %s expects 2D input [num_nodes, features], got shape %v", layers.ErrDimension, name, input.Shape)
	}
	if input.Shape[1] != numFeatures {
		return fmt.Errorf("%w: %s input features mismatch: expected %d, got %d", layers.ErrDimension, name, numFeatures, input.Shape[1])
	}
	return nil
}

// LayerNorm normalizes every node's feature vector to zero mean and unit
// variance, then applies a learned scale and shift
type LayerNorm struct {
	numFeatures int
	eps         float64
	gamma       *tensor.Tensor
	beta        *tensor.Tensor
}

// NewLayerNorm creates a new Layer Normalization module
func NewLayerNorm(numFeatures int, eps float64) (*LayerNorm, error) {
	if eps <= 0 {
		eps = defaultEps
	}
	gamma, beta, err := newAffine(numFeatures)
	if err != nil {
		return nil, err
	}
	return &LayerNorm{numFeatures: numFeatures, eps: eps, gamma: gamma, beta: beta}, nil
}

// Forward performs layer normalization
func (ln *LayerNorm) Forward(p *Pass, input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkFeatures("LayerNorm", input, ln.numFeatures); err != nil {
		return nil, err
	}

	output, err := tensor.Zeros(input.Shape)
	if err != nil {
		return nil, err
	}

	gamma, beta := ln.gamma.Data, ln.beta.Data
	width := float64(ln.numFeatures)
	for i := 0; i < input.Rows(); i++ {
		row, out := input.Row(i), output.Row(i)

		var sum float64
		for _, v := range row {
			sum += float64(v)
		}
		mean := sum / width

		var sumSq float64
		for _, v := range row {
			diff := float64(v) - mean
			sumSq += diff * diff
		}
		invStd := 1 / math.Sqrt(sumSq/width+ln.eps)

		for j, v := range row {
			out[j] = float32((float64(v)-mean)*invStd)*gamma[j] + beta[j]
		}
	}
	return output, nil
}

// NamedParameters returns gamma as weight and beta as bias
func (ln *LayerNorm) NamedParameters() []NamedTensor {
	return []NamedTensor{{Name: "weight", Tensor: ln.gamma}, {Name: "bias", Tensor: ln.beta}}
}

// Parameters returns the trainable parameters
func (ln *LayerNorm) Parameters() []*tensor.Tensor {
	return tensorsOf(ln.NamedParameters())
}

// BatchNorm implements Batch Normalization over the node axis
type BatchNorm struct {
	numFeatures int
	eps         float64
	momentum    float64
	gamma       *tensor.Tensor // Scale parameter
	beta        *tensor.Tensor // Shift parameter

	mu          sync.RWMutex
	runningMean []float64 // Running mean for inference
	runningVar  []float64 // Running variance for inference
}

// NewBatchNorm creates a new Batch Normalization module
func NewBatchNorm(numFeatures int, eps, momentum float64) (*BatchNorm, error) {
	if eps <= 0 {
		eps = defaultEps
	}
	if momentum <= 0 {
		momentum = defaultMomentum
	}

	gamma, beta, err := newAffine(numFeatures)
	if err != nil {
		return nil, err
	}

	runningVar := make([]float64, numFeatures)
	for i := range runningVar {
		runningVar[i] = 1.0 // Initialize variance to 1
	}

	return &BatchNorm{
		numFeatures: numFeatures,
		eps:         eps,
		momentum:    momentum,
		gamma:       gamma,
		beta:        beta,
		runningMean: make([]float64, numFeatures),
		runningVar:  runningVar,
	}, nil
}

// Forward normalizes with batch statistics in training passes (updating the
// running statistics) and with the running statistics in evaluation passes
func (bn *BatchNorm) Forward(p *Pass, input *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkFeatures("BatchNorm", input, bn.numFeatures); err != nil {
		return nil, err
	}

	batchSize := input.Rows()
	if batchSize == 0 {
		return tensor.Zeros(input.Shape)
	}

	var mean, variance []float64
	if p.IsTraining() {
		mean, variance = bn.batchStatistics(input)
		bn.updateRunningStatistics(mean, variance)
	} else {
		mean, variance = bn.RunningStatistics()
	}

	output, err := tensor.Zeros(input.Shape)
	if err != nil {
		return nil, err
	}

	gamma, beta := bn.gamma.Data, bn.beta.Data
	invStd := make([]float64, bn.numFeatures)
	for j := range invStd {
		invStd[j] = 1 / math.Sqrt(variance[j]+bn.eps)
	}
	for i := 0; i < batchSize; i++ {
		row, out := input.Row(i), output.Row(i)
		for j, v := range row {
			// Normalize: (x - mean) / sqrt(var + eps)
			out[j] = float32((float64(v)-mean[j])*invStd[j])*gamma[j] + beta[j]
		}
	}
	return output, nil
}

func (bn *BatchNorm) batchStatistics(input *tensor.Tensor) (mean, variance []float64) {
	batchSize := float64(input.Rows())
	mean = make([]float64, bn.numFeatures)
	variance = make([]float64, bn.numFeatures)

	for i := 0; i < input.Rows(); i++ {
		for j, v := range input.Row(i) {
			mean[j] += float64(v)
		}
	}
	for j := range mean {
		mean[j] /= batchSize
	}
	for i := 0; i < input.Rows(); i++ {
		for j, v := range input.Row(i) {
			diff := float64(v) - mean[j]
			variance[j] += diff * diff
		}
	}
	for j := range variance {
		variance[j] /= batchSize
	}
	return mean, variance
}

func (bn *BatchNorm) updateRunningStatistics(mean, variance []float64) {
	bn.mu.Lock()
	defer bn.mu.Unlock()
	for i := range mean {
		bn.runningMean[i] = (1.0-bn.momentum)*bn.runningMean[i] + bn.momentum*mean[i]
		bn.runningVar[i] = (1.0-bn.momentum)*bn.runningVar[i] + bn.momentum*variance[i]
	}
}

// RunningStatistics returns copies of the running mean and variance
func (bn *BatchNorm) RunningStatistics() (mean, variance []float64) {
	bn.mu.RLock()
	defer bn.mu.RUnlock()
	mean = append([]float64(nil), bn.runningMean...)
	variance = append([]float64(nil), bn.runningVar...)
	return mean, variance
}

// NamedParameters returns gamma as weight and beta as bias
func (bn *BatchNorm) NamedParameters() []NamedTensor {
	return []NamedTensor{{Name: "weight", Tensor: bn.gamma}, {Name: "bias", Tensor: bn.beta}}
}

// Parameters returns the trainable parameters
func (bn *BatchNorm) Parameters() []*tensor.Tensor {
	return tensorsOf(bn.NamedParameters())
}
