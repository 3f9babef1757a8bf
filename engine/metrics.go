package engine

import (
	"fmt"
	"math"

	"github.com/tsawler/go-mdgnn/layers"
	"github.com/tsawler/go-mdgnn/tensor"
)

// RegressionMetrics summarizes how far predictions are from node targets
type RegressionMetrics struct {
	MAE  float64 // Mean Absolute Error
	MSE  float64 // Mean Squared Error
	RMSE float64 // Root Mean Squared Error
	R2   float64 // R-squared
	NMAE float64 // MAE scaled by the target range
}

func (m *RegressionMetrics) String() string {
	return fmt.Sprintf("MAE %.4f, RMSE %.4f, R2 %.4f, NMAE %.4f", m.MAE, m.RMSE, m.R2, m.NMAE)
}

// EvaluateRegression compares predictions with targets element by element.
// A squeezed [N] prediction matches [N, 1] targets.
func EvaluateRegression(predictions, targets *tensor.Tensor) (*RegressionMetrics, error) {
	if predictions == nil || targets == nil {
		return nil, fmt.Errorf("%w: evaluation requires predictions and targets", layers.ErrDimension)
	}
	if predictions.Rows() != targets.Rows() || predictions.Numel() != targets.Numel() {
		return nil, fmt.Errorf("%w: predictions %v do not match targets %v", layers.ErrDimension, predictions.Shape, targets.Shape)
	}

	n := predictions.Numel()
	if n == 0 {
		return &RegressionMetrics{}, nil
	}

	meanTrue := 0.0
	for _, v := range targets.Data {
		meanTrue += float64(v)
	}
	meanTrue /= float64(n)

	sumAbsErr, sumSqErr, sumSqTotal := 0.0, 0.0, 0.0
	minTrue, maxTrue := math.Inf(1), math.Inf(-1)
	for i, p := range predictions.Data {
		pred, actual := float64(p), float64(targets.Data[i])
		diff := pred - actual

		sumAbsErr += math.Abs(diff)
		sumSqErr += diff * diff
		sumSqTotal += (actual - meanTrue) * (actual - meanTrue)

		minTrue = math.Min(minTrue, actual)
		maxTrue = math.Max(maxTrue, actual)
	}

	m := &RegressionMetrics{
		MAE: sumAbsErr / float64(n),
		MSE: sumSqErr / float64(n),
	}
	m.RMSE = math.Sqrt(m.MSE)
	if sumSqTotal > 0 {
		m.R2 = 1.0 - sumSqErr/sumSqTotal
	}
	if maxTrue > minTrue {
		m.NMAE = m.MAE / (maxTrue - minTrue)
	}
	return m, nil
}
