// Package ml implements the anomaly detection core: the standardizing
// feature scaler and the isolation forest scorer, plus the combined model
// that is the unit of persistence.
package ml

import (
	"fmt"

	"gridsight/core"

	"gonum.org/v1/gonum/stat"
)

// ScalerState holds per-feature standardization parameters fit once from a
// training corpus. It is immutable after FitScaler and must never be refit
// per query: the scorer's training space is defined by these exact values.
type ScalerState struct {
	Means [core.FeatureCount]float64
	Stds  [core.FeatureCount]float64
	Count int
}

// FitScaler computes the per-feature mean and population standard deviation
// over records. A feature with exactly zero variance gets a standard
// deviation of 1.0 so Transform stays finite; scaled values of that feature
// are then uniformly zero, which is the desired degenerate behavior.
func FitScaler(records []core.Record) (ScalerState, error) {
	if len(records) == 0 {
		return ScalerState{}, fmt.Errorf("cannot fit scaler: %w", core.ErrInsufficientData)
	}

	col := make([]float64, len(records))
	var state ScalerState
	state.Count = len(records)

	for f := 0; f < core.FeatureCount; f++ {
		for i := range records {
			col[i] = records[i].Feature(f)
		}
		state.Means[f] = stat.Mean(col, nil)
		std := stat.PopStdDev(col, nil)
		if std == 0 {
			std = 1.0
		}
		state.Stds[f] = std
	}

	return state, nil
}

// Transform standardizes records against the fitted state. It is pure and
// deterministic: statistics are never rederived from the input.
func (s ScalerState) Transform(records []core.Record) [][]float64 {
	matrix := make([][]float64, len(records))
	for i := range records {
		row := make([]float64, core.FeatureCount)
		for f := 0; f < core.FeatureCount; f++ {
			row[f] = (records[i].Feature(f) - s.Means[f]) / s.Stds[f]
		}
		matrix[i] = row
	}
	return matrix
}

// TransformOne standardizes a single record.
func (s ScalerState) TransformOne(r *core.Record) []float64 {
	row := make([]float64, core.FeatureCount)
	for f := 0; f < core.FeatureCount; f++ {
		row[f] = (r.Feature(f) - s.Means[f]) / s.Stds[f]
	}
	return row
}
