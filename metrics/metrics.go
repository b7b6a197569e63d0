// Package metrics exposes Prometheus instrumentation for the Gridsight
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridsight_rows_parsed_total",
			Help: "Total number of raw rows successfully parsed into records",
		},
	)

	RowsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsight_rows_dropped_total",
			Help: "Total number of raw rows dropped during parsing",
		},
		[]string{"reason"},
	)

	TrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridsight_trainings_total",
			Help: "Total number of training runs",
		},
		[]string{"status"},
	)

	PredictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridsight_predictions_total",
			Help: "Total number of prediction and query requests served",
		},
	)

	AnomaliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridsight_anomalies_detected_total",
			Help: "Total number of records labeled anomalous",
		},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridsight_training_duration_seconds",
			Help:    "Time taken to train a model",
			Buckets: prometheus.DefBuckets,
		},
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gridsight_prediction_duration_seconds",
			Help:    "Time taken to score a prediction or query request",
			Buckets: prometheus.DefBuckets,
		},
	)

	ModelTrainingRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridsight_model_training_rows",
			Help: "Number of rows the currently published model was trained on",
		},
	)
)
