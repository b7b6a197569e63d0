package ml

import (
	"fmt"
	"time"

	"gridsight/core"
)

// Model is a trained (scaler, forest) pair. The two are always created,
// persisted, and loaded as one unit: the forest is meaningless without the
// scaler that produced its training space. Immutable after training;
// retraining produces a complete new Model, never an in-place edit.
type Model struct {
	ID           string
	Version      string
	Scaler       ScalerState
	Forest       *Forest
	TrainedAt    time.Time
	TrainingRows int
}

// Ready reports whether the model can score records.
func (m *Model) Ready() bool {
	return m != nil && m.Forest.Ready()
}

// ScoreRecords standardizes records with the model's scaler and scores each
// against the forest. Returned records carry the original raw feature
// values alongside the score and label.
func (m *Model) ScoreRecords(records []core.Record) ([]core.ScoredRecord, error) {
	if !m.Ready() {
		return nil, fmt.Errorf("cannot score records: %w", core.ErrModelNotTrained)
	}

	scored := make([]core.ScoredRecord, len(records))
	for i := range records {
		row := m.Scaler.TransformOne(&records[i])
		score, anomalous := m.Forest.Classify(row)
		scored[i] = core.ScoredRecord{
			Record:       records[i],
			AnomalyScore: score,
			IsAnomaly:    anomalous,
		}
	}
	return scored, nil
}
