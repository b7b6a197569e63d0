// Package service orchestrates parsing, scaling, scoring, and persistence
// behind the four engine operations: train, predict, query, and
// analyze-default.
package service

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gridsight/config"
	"gridsight/core"
	"gridsight/ingest"
	"gridsight/metrics"
	"gridsight/ml"
	"gridsight/storage"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	// CurrentTag is the snapshot tag holding the published model.
	CurrentTag = "current"

	// maxAnomalies caps the anomaly list in a single response.
	maxAnomalies = 1000

	// defaultSampleSeed makes analyze-default sampling reproducible.
	defaultSampleSeed = 42

	// datasetCacheSize bounds the parsed reference dataset cache.
	datasetCacheSize = 4
)

// datasetEntry caches a parsed dataset keyed by path; modTime invalidates
// the entry when the file changes on disk.
type datasetEntry struct {
	modTime time.Time
	result  *ingest.ParseResult
}

// Service is the anomaly query service. The published model is an
// atomically swappable handle: trains publish a complete new model via
// copy-on-publish, readers in flight keep the snapshot they started with,
// and concurrent predict/query calls never block on a writer.
type Service struct {
	cfg    *config.Config
	parser *ingest.PowerParser
	store  *storage.ModelStore
	logger *zap.SugaredLogger

	current  atomic.Pointer[ml.Model]
	trainMu  sync.Mutex // serializes writers; readers never take it
	datasets *lru.Cache[string, *datasetEntry]
}

// New creates the service and publishes the persisted current model if one
// exists. A missing snapshot is not an error; the service stays usable for
// a subsequent train.
func New(cfg *config.Config, store *storage.ModelStore, logger *zap.SugaredLogger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cache, err := lru.New[string, *datasetEntry](datasetCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset cache: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		parser:   ingest.NewPowerParser(logger),
		store:    store,
		logger:   logger,
		datasets: cache,
	}

	if model, err := store.Load(context.Background(), CurrentTag); err == nil {
		s.publish(model)
		logger.Infow("Published persisted model", "model_id", model.ID, "trained_at", model.TrainedAt)
	} else if core.ErrorKind(err) == core.KindIncompatibleVersion {
		logger.Warnw("Persisted model is incompatible, retrain required", "error", err)
	} else {
		logger.Info("No persisted model found, waiting for first training run")
	}

	return s, nil
}

// Current returns the currently published model, or nil before the first
// train.
func (s *Service) Current() *ml.Model {
	return s.current.Load()
}

func (s *Service) publish(model *ml.Model) {
	s.current.Store(model)
	metrics.ModelTrainingRows.Set(float64(model.TrainingRows))
}

// model resolves the published model, falling back to the store. A miss in
// both maps to ErrModelNotTrained: the caller must train first.
func (s *Service) model(ctx context.Context) (*ml.Model, error) {
	if m := s.current.Load(); m != nil {
		return m, nil
	}
	m, err := s.store.Load(ctx, CurrentTag)
	if err != nil {
		if core.ErrorKind(err) == core.KindModelNotFound {
			return nil, fmt.Errorf("no model available, train first: %w", core.ErrModelNotTrained)
		}
		return nil, err
	}
	s.publish(m)
	return m, nil
}

// Train runs the full training pipeline over a raw file: parse, fit scaler,
// transform, train forest with a threshold fixed from the same set, persist
// and publish. Only one train runs at a time; a failed or cancelled train
// leaves the previously published model untouched.
func (s *Service) Train(ctx context.Context, r io.Reader, format ingest.Format) (*core.TrainingSummary, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	start := time.Now()
	summary, err := s.train(ctx, r, format)
	metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		status := "failure"
		if ctx.Err() != nil {
			status = "cancelled"
		}
		metrics.TrainingsTotal.WithLabelValues(status).Inc()
		return nil, err
	}
	metrics.TrainingsTotal.WithLabelValues("success").Inc()
	return summary, nil
}

func (s *Service) train(ctx context.Context, r io.Reader, format ingest.Format) (*core.TrainingSummary, error) {
	parsed, err := s.parser.Parse(r, format)
	if err != nil {
		return nil, err
	}
	if parsed.RowsParsed < s.cfg.Detector.MinTrainingRows {
		return nil, fmt.Errorf("only %d valid rows after parsing (%d dropped), need at least %d: %w",
			parsed.RowsParsed, parsed.RowsDropped, s.cfg.Detector.MinTrainingRows, core.ErrInsufficientData)
	}

	scaler, err := ml.FitScaler(parsed.Records)
	if err != nil {
		return nil, err
	}
	matrix := scaler.Transform(parsed.Records)

	forest, err := ml.TrainForest(ctx, matrix, &ml.ForestConfig{
		NumTrees:      s.cfg.Detector.NumTrees,
		SubsampleCap:  s.cfg.Detector.SubsampleCap,
		Contamination: s.cfg.Detector.Contamination,
		Seed:          s.cfg.Detector.Seed,
		Workers:       s.cfg.Detector.Workers,
		Logger:        s.logger,
	})
	if err != nil {
		return nil, err
	}

	model := &ml.Model{
		ID:           uuid.NewString(),
		Version:      s.store.NextVersion(ctx, CurrentTag),
		Scaler:       scaler,
		Forest:       forest,
		TrainedAt:    time.Now().UTC(),
		TrainingRows: parsed.RowsParsed,
	}

	if err := s.store.Save(ctx, model, CurrentTag); err != nil {
		return nil, err
	}
	s.publish(model)

	return &core.TrainingSummary{
		ModelID:     model.ID,
		Version:     model.Version,
		RowsParsed:  parsed.RowsParsed,
		RowsDropped: parsed.RowsDropped,
		TrainedAt:   model.TrainedAt,
		Message:     fmt.Sprintf("Model trained on %d records and saved successfully", parsed.RowsParsed),
	}, nil
}

// TrainDefaultDataset trains on the built-in reference dataset.
func (s *Service) TrainDefaultDataset(ctx context.Context) (*core.TrainingSummary, error) {
	f, err := os.Open(s.cfg.DataPaths.DefaultDataset)
	if err != nil {
		return nil, fmt.Errorf("default dataset not available: %w", err)
	}
	defer f.Close()
	return s.Train(ctx, f, ingest.FormatForFilename(s.cfg.DataPaths.DefaultDataset))
}

// Predict parses a raw file and scores every record against the published
// model. An empty file yields total_records = 0 and percentage 0.0.
func (s *Service) Predict(ctx context.Context, r io.Reader, format ingest.Format) (*core.PredictionResult, error) {
	model, err := s.model(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := s.parser.Parse(r, format)
	if err != nil {
		return nil, err
	}
	return s.score(model, parsed.Records, "")
}

// PredictDefaultDataset scores the built-in reference dataset.
func (s *Service) PredictDefaultDataset(ctx context.Context) (*core.PredictionResult, error) {
	model, err := s.model(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := s.defaultDataset()
	if err != nil {
		return nil, err
	}
	return s.score(model, parsed.Records, "")
}

// Query scores the reference dataset restricted to [start, end] inclusive,
// optionally ordering anomalies by a named raw feature descending. An empty
// window returns zero counts, not an error.
func (s *Service) Query(ctx context.Context, start, end time.Time, featureFilter string) (*core.PredictionResult, error) {
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return nil, fmt.Errorf("%w: %s > %s", core.ErrInvalidRange,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	if featureFilter != "" {
		if _, ok := core.FeatureIndex(featureFilter); !ok {
			return nil, fmt.Errorf("%w: %q", core.ErrUnknownFeature, featureFilter)
		}
	}

	model, err := s.model(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := s.defaultDataset()
	if err != nil {
		return nil, err
	}

	window := make([]core.Record, 0, len(parsed.Records))
	for _, rec := range parsed.Records {
		if !start.IsZero() && rec.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && rec.Timestamp.After(end) {
			continue
		}
		window = append(window, rec)
	}

	return s.score(model, window, featureFilter)
}

// AnalyzeDefault scores the reference dataset, optionally restricted to a
// reproducible random sample of sampleSize rows.
func (s *Service) AnalyzeDefault(ctx context.Context, sampleSize int) (*core.PredictionResult, error) {
	model, err := s.model(ctx)
	if err != nil {
		return nil, err
	}
	parsed, err := s.defaultDataset()
	if err != nil {
		return nil, err
	}

	records := parsed.Records
	if sampleSize > 0 && sampleSize < len(records) {
		rng := rand.New(rand.NewSource(defaultSampleSeed))
		idx := rng.Perm(len(records))[:sampleSize]
		sort.Ints(idx)
		sample := make([]core.Record, sampleSize)
		for i, j := range idx {
			sample[i] = records[j]
		}
		records = sample
	}

	return s.score(model, records, "")
}

// score assembles a PredictionResult from scored records.
func (s *Service) score(model *ml.Model, records []core.Record, featureFilter string) (*core.PredictionResult, error) {
	start := time.Now()
	defer func() {
		metrics.PredictionDuration.Observe(time.Since(start).Seconds())
		metrics.PredictionsTotal.Inc()
	}()

	result := &core.PredictionResult{Anomalies: []core.ScoredRecord{}}
	result.TotalRecords = len(records)
	if len(records) == 0 {
		return result, nil
	}

	scored, err := model.ScoreRecords(records)
	if err != nil {
		return nil, err
	}

	for i := range scored {
		if scored[i].IsAnomaly {
			result.Anomalies = append(result.Anomalies, scored[i])
		}
	}
	result.AnomalyCount = len(result.Anomalies)
	metrics.AnomaliesDetected.Add(float64(result.AnomalyCount))

	if featureFilter != "" {
		f, _ := core.FeatureIndex(featureFilter)
		sort.SliceStable(result.Anomalies, func(i, j int) bool {
			return result.Anomalies[i].Feature(f) > result.Anomalies[j].Feature(f)
		})
	}
	if len(result.Anomalies) > maxAnomalies {
		result.Anomalies = result.Anomalies[:maxAnomalies]
	}

	result.AnomalyPercentage = 100 * float64(result.AnomalyCount) / float64(result.TotalRecords)
	return result, nil
}

// defaultDataset returns the parsed reference dataset, cached until the
// file's modification time changes.
func (s *Service) defaultDataset() (*ingest.ParseResult, error) {
	path := s.cfg.DataPaths.DefaultDataset
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("default dataset not available: %w", err)
	}

	if entry, ok := s.datasets.Get(path); ok && entry.modTime.Equal(info.ModTime()) {
		return entry.result, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("default dataset not available: %w", err)
	}
	defer f.Close()

	parsed, err := s.parser.Parse(f, ingest.FormatForFilename(path))
	if err != nil {
		return nil, err
	}

	s.datasets.Add(path, &datasetEntry{modTime: info.ModTime(), result: parsed})
	return parsed, nil
}
