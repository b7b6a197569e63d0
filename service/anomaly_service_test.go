package service

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gridsight/config"
	"gridsight/core"
	"gridsight/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeDataset writes n minutes of synthetic consumption data starting at
// base, with a large spike every spikeEvery rows (0 disables spikes).
func writeDataset(t *testing.T, path string, base time.Time, n, spikeEvery int) {
	t.Helper()

	rng := rand.New(rand.NewSource(21))
	var b strings.Builder
	b.WriteString("Date;Time;Global_active_power;Global_reactive_power;Voltage;Global_intensity;Sub_metering_1;Sub_metering_2;Sub_metering_3\n")
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		active := 1.2 + rng.NormFloat64()*0.2
		intensity := 5 + rng.NormFloat64()*0.5
		voltage := 240 + rng.NormFloat64()
		if spikeEvery > 0 && i%spikeEvery == spikeEvery-1 {
			active = 40 + rng.Float64()*5
			intensity = 180 + rng.Float64()*10
			voltage = 180
		}
		fmt.Fprintf(&b, "%s;%.3f;%.3f;%.2f;%.1f;%.1f;%.1f;%.1f\n",
			ts.Format("2/1/2006;15:04:05"),
			active,
			0.1+rng.NormFloat64()*0.02,
			voltage,
			intensity,
			rng.Float64()*2,
			rng.Float64()*2,
			12+rng.Float64())
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
}

// newTestService builds a service over a temp data dir with a synthetic
// default dataset of n rows.
func newTestService(t *testing.T, n int) (*Service, *config.Config) {
	t.Helper()

	dir := t.TempDir()
	dataset := filepath.Join(dir, "household_power_consumption.txt")
	writeDataset(t, dataset, time.Date(2007, 1, 1, 0, 0, 0, 0, time.UTC), n, 100)

	cfg := &config.Config{}
	cfg.DataPaths.DataDir = dir
	cfg.DataPaths.ModelsDir = filepath.Join(dir, "models")
	cfg.DataPaths.DefaultDataset = dataset
	cfg.Detector.NumTrees = 50
	cfg.Detector.SubsampleCap = 256
	cfg.Detector.Contamination = 0.01
	cfg.Detector.Seed = 42
	cfg.Detector.MinTrainingRows = 10

	store, err := storage.NewModelStore(cfg.DataPaths.ModelsDir, nil, nil)
	require.NoError(t, err)

	svc, err := New(cfg, store, nil)
	require.NoError(t, err)
	return svc, cfg
}

// TestService_TrainDefaultDataset tests the full training pipeline
func TestService_TrainDefaultDataset(t *testing.T) {
	svc, _ := newTestService(t, 1000)

	summary, err := svc.TrainDefaultDataset(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.ModelID)
	assert.Equal(t, "1.0.0", summary.Version)
	assert.Equal(t, 1000, summary.RowsParsed)
	assert.Equal(t, 0, summary.RowsDropped)
	assert.False(t, summary.TrainedAt.IsZero())
	require.NotNil(t, svc.Current())
	assert.Equal(t, summary.ModelID, svc.Current().ID)
}

// TestService_Train_InsufficientData tests the minimum row gate
func TestService_Train_InsufficientData(t *testing.T) {
	svc, _ := newTestService(t, 100)

	input := "16/12/2006;17:24:00;4.216;0.418;234.840;18.400;0.000;1.000;17.000\n" +
		"16/12/2006;17:25:00;5.360;0.436;233.630;23.000;0.000;1.000;16.000\n"
	_, err := svc.Train(context.Background(), strings.NewReader(input), "txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
	assert.Nil(t, svc.Current(), "failed train must not publish a model")
}

// TestService_Train_FailureKeepsCurrentModel tests that a bad train leaves
// the published model untouched
func TestService_Train_FailureKeepsCurrentModel(t *testing.T) {
	svc, _ := newTestService(t, 500)

	_, err := svc.TrainDefaultDataset(context.Background())
	require.NoError(t, err)
	published := svc.Current()
	require.NotNil(t, published)

	_, err = svc.Train(context.Background(), strings.NewReader("garbage\n"), "txt")
	require.Error(t, err)
	assert.Same(t, published, svc.Current())
}

// TestService_Predict_NotTrained tests prediction before any train
func TestService_Predict_NotTrained(t *testing.T) {
	svc, _ := newTestService(t, 100)

	_, err := svc.PredictDefaultDataset(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrModelNotTrained)
}

// TestService_Predict tests scoring an uploaded file
func TestService_Predict(t *testing.T) {
	svc, cfg := newTestService(t, 1000)
	_, err := svc.TrainDefaultDataset(context.Background())
	require.NoError(t, err)

	f, err := os.Open(cfg.DataPaths.DefaultDataset)
	require.NoError(t, err)
	defer f.Close()

	result, err := svc.Predict(context.Background(), f, "txt")
	require.NoError(t, err)

	assert.Equal(t, 1000, result.TotalRecords)
	assert.Equal(t, result.AnomalyCount, len(result.Anomalies))
	assert.Greater(t, result.AnomalyCount, 0, "planted spikes should be flagged")
	assert.InDelta(t, 100*float64(result.AnomalyCount)/1000, result.AnomalyPercentage, 1e-9)

	for _, a := range result.Anomalies {
		assert.Greater(t, a.AnomalyScore, svc.Current().Forest.Threshold)
	}
}

// TestService_Query_InvalidRange tests start-after-end rejection
func TestService_Query_InvalidRange(t *testing.T) {
	svc, _ := newTestService(t, 100)

	start := time.Date(2007, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2007, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Query(context.Background(), start, end, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidRange)
}

// TestService_Query_UnknownFeature tests feature filter validation
func TestService_Query_UnknownFeature(t *testing.T) {
	svc, _ := newTestService(t, 100)

	_, err := svc.Query(context.Background(), time.Time{}, time.Time{}, "bogus_feature")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnknownFeature)
}

// TestService_Query_Window tests inclusive window filtering
func TestService_Query_Window(t *testing.T) {
	svc, _ := newTestService(t, 1000)
	_, err := svc.TrainDefaultDataset(context.Background())
	require.NoError(t, err)

	// Rows run from 00:00 to 16:39 on 2007-01-01; take the first hour.
	start := time.Date(2007, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2007, 1, 1, 0, 59, 0, 0, time.UTC)
	result, err := svc.Query(context.Background(), start, end, "")
	require.NoError(t, err)

	assert.Equal(t, 60, result.TotalRecords, "window bounds are inclusive")
}

// TestService_Query_EmptyWindow tests that an empty window yields zeros
func TestService_Query_EmptyWindow(t *testing.T) {
	svc, _ := newTestService(t, 500)
	_, err := svc.TrainDefaultDataset(context.Background())
	require.NoError(t, err)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	result, err := svc.Query(context.Background(), start, end, "")
	require.NoError(t, err)

	assert.Equal(t, 0, result.TotalRecords)
	assert.Equal(t, 0, result.AnomalyCount)
	assert.Equal(t, 0.0, result.AnomalyPercentage, "no division by zero")
	assert.NotNil(t, result.Anomalies, "anomalies serializes as [], not null")
}

// TestService_Query_FeatureFilterOrders tests descending order by raw feature
func TestService_Query_FeatureFilterOrders(t *testing.T) {
	svc, _ := newTestService(t, 1000)
	_, err := svc.TrainDefaultDataset(context.Background())
	require.NoError(t, err)

	result, err := svc.Query(context.Background(), time.Time{}, time.Time{}, "global_active_power")
	require.NoError(t, err)
	require.Greater(t, len(result.Anomalies), 1)

	for i := 1; i < len(result.Anomalies); i++ {
		assert.GreaterOrEqual(t,
			result.Anomalies[i-1].GlobalActivePower,
			result.Anomalies[i].GlobalActivePower)
	}
}

// TestService_AnalyzeDefault_Sample tests reproducible sampling
func TestService_AnalyzeDefault_Sample(t *testing.T) {
	svc, _ := newTestService(t, 1000)
	_, err := svc.TrainDefaultDataset(context.Background())
	require.NoError(t, err)

	r1, err := svc.AnalyzeDefault(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, 200, r1.TotalRecords)

	// Same sample size reproduces the identical result.
	r2, err := svc.AnalyzeDefault(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, r1.AnomalyCount, r2.AnomalyCount)
	assert.Equal(t, r1.Anomalies, r2.Anomalies)

	// Sample size of zero or larger than the dataset scores everything.
	full, err := svc.AnalyzeDefault(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1000, full.TotalRecords)

	over, err := svc.AnalyzeDefault(context.Background(), 5000)
	require.NoError(t, err)
	assert.Equal(t, 1000, over.TotalRecords)
}

// TestService_ModelPersistsAcrossRestart tests that a new service instance
// picks up the persisted snapshot
func TestService_ModelPersistsAcrossRestart(t *testing.T) {
	svc, cfg := newTestService(t, 500)
	summary, err := svc.TrainDefaultDataset(context.Background())
	require.NoError(t, err)

	store, err := storage.NewModelStore(cfg.DataPaths.ModelsDir, nil, nil)
	require.NoError(t, err)
	restarted, err := New(cfg, store, nil)
	require.NoError(t, err)

	require.NotNil(t, restarted.Current())
	assert.Equal(t, summary.ModelID, restarted.Current().ID)

	result, err := restarted.PredictDefaultDataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500, result.TotalRecords)
}
