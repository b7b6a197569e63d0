// Package core defines the domain types shared by the Gridsight anomaly
// detection engine: power consumption records, scored results, and the
// error taxonomy surfaced to callers.
package core

import "time"

// FeatureCount is the number of numeric features carried by every record.
const FeatureCount = 7

// Feature indices into Record.Features() and ScalerState vectors.
const (
	FeatureGlobalActivePower = iota
	FeatureGlobalReactivePower
	FeatureVoltage
	FeatureGlobalIntensity
	FeatureSubMetering1
	FeatureSubMetering2
	FeatureSubMetering3
)

// FeatureNames lists the canonical feature names in vector order. The names
// match the column headers of the household power consumption dataset,
// lowercased, and are the values accepted by the feature_filter query
// parameter.
var FeatureNames = [FeatureCount]string{
	"global_active_power",
	"global_reactive_power",
	"voltage",
	"global_intensity",
	"sub_metering_1",
	"sub_metering_2",
	"sub_metering_3",
}

// FeatureIndex resolves a feature name to its vector index.
func FeatureIndex(name string) (int, bool) {
	for i, n := range FeatureNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Record is a single timestamped power consumption measurement. All seven
// feature values are present and finite once a Record has been produced by
// the parser.
type Record struct {
	Timestamp           time.Time `json:"datetime"`
	GlobalActivePower   float64   `json:"global_active_power"`
	GlobalReactivePower float64   `json:"global_reactive_power"`
	Voltage             float64   `json:"voltage"`
	GlobalIntensity     float64   `json:"global_intensity"`
	SubMetering1        float64   `json:"sub_metering_1"`
	SubMetering2        float64   `json:"sub_metering_2"`
	SubMetering3        float64   `json:"sub_metering_3"`
}

// Features returns the record's feature values in canonical vector order.
func (r *Record) Features() [FeatureCount]float64 {
	return [FeatureCount]float64{
		r.GlobalActivePower,
		r.GlobalReactivePower,
		r.Voltage,
		r.GlobalIntensity,
		r.SubMetering1,
		r.SubMetering2,
		r.SubMetering3,
	}
}

// Feature returns the raw value for a feature index.
func (r *Record) Feature(idx int) float64 {
	return r.Features()[idx]
}

// ScoredRecord is a Record together with its anomaly score. Response
// payloads carry the original raw feature values, never standardized ones.
type ScoredRecord struct {
	Record
	AnomalyScore float64 `json:"anomaly_score"`
	IsAnomaly    bool    `json:"-"`
}

// PredictionResult is the payload returned by predict and query operations.
// Anomalies holds only the records labeled anomalous, ordered as requested.
type PredictionResult struct {
	Anomalies         []ScoredRecord `json:"anomalies"`
	AnomalyCount      int            `json:"anomaly_count"`
	TotalRecords      int            `json:"total_records"`
	AnomalyPercentage float64        `json:"anomaly_percentage"`
}

// TrainingSummary reports the outcome of a completed training run.
type TrainingSummary struct {
	ModelID     string    `json:"model_id"`
	Version     string    `json:"version"`
	RowsParsed  int       `json:"rows_parsed"`
	RowsDropped int       `json:"rows_dropped"`
	TrainedAt   time.Time `json:"trained_at"`
	Message     string    `json:"message"`
}
