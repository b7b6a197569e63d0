package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gridsight/core"
	"gridsight/ml"

	"go.uber.org/zap"
)

const (
	// snapshotMagic identifies a Gridsight model snapshot file.
	snapshotMagic = "GSM1"
	// FormatVersion is bumped whenever the snapshot encoding changes
	// incompatibly. Snapshots with a different version are rejected at load
	// time rather than silently producing wrong scores.
	FormatVersion = 1
)

// snapshotEnvelope wraps a model with the format header checked at load.
type snapshotEnvelope struct {
	Magic         string
	FormatVersion int
	Model         *ml.Model
}

// ModelStore persists trained (scaler, forest) pairs as atomic versioned
// snapshots, one current snapshot per tag. Saves write to a temp file and
// rename into place, so a reader never observes a half-written model.
type ModelStore struct {
	dir    string
	db     *SQLite
	logger *zap.SugaredLogger
}

// NewModelStore creates a store rooted at dir. The SQLite registry is
// optional; when nil only file snapshots are written.
func NewModelStore(dir string, db *SQLite, logger *zap.SugaredLogger) (*ModelStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("model directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	return &ModelStore{dir: dir, db: db, logger: logger}, nil
}

func (s *ModelStore) snapshotPath(tag string) string {
	return filepath.Join(s.dir, tag+".model")
}

// Save writes a complete snapshot of the model under tag, replacing any
// prior snapshot wholesale, and records it in the registry.
func (s *ModelStore) Save(ctx context.Context, model *ml.Model, tag string) error {
	if model == nil || !model.Ready() {
		return fmt.Errorf("cannot save: %w", core.ErrModelNotTrained)
	}
	if tag == "" {
		return fmt.Errorf("snapshot tag cannot be empty")
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	env := snapshotEnvelope{Magic: snapshotMagic, FormatVersion: FormatVersion, Model: model}
	if err := gob.NewEncoder(gz).Encode(&env); err != nil {
		return fmt.Errorf("failed to encode model snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress model snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, tag+".model.tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot temp file: %w", err)
	}

	final := s.snapshotPath(tag)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	if s.db != nil {
		meta := &ModelMetadata{
			ID:           model.ID,
			Tag:          tag,
			Version:      model.Version,
			TrainedAt:    model.TrainedAt,
			TrainingRows: model.TrainingRows,
			Threshold:    model.Forest.Threshold,
			FilePath:     final,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.db.InsertModel(ctx, meta); err != nil {
			// The snapshot itself is published; registry failure is not fatal.
			s.logger.Warnw("Failed to register model metadata", "model_id", model.ID, "error", err)
		}
	}

	s.logger.Infow("Saved model snapshot",
		"tag", tag,
		"model_id", model.ID,
		"path", final,
		"bytes", buf.Len())
	return nil
}

// NextVersion derives the next patch version for a tag from the registry
// history. Without a registry, or for a tag with no history, it starts at
// 1.0.0.
func (s *ModelStore) NextVersion(ctx context.Context, tag string) string {
	if s.db == nil {
		return "1.0.0"
	}
	history, err := s.db.ListModels(ctx, tag)
	if err != nil {
		s.logger.Warnw("Failed to query model history, defaulting version", "tag", tag, "error", err)
		return "1.0.0"
	}
	return fmt.Sprintf("1.0.%d", len(history))
}

// Load reads the current snapshot for tag. It fails with
// core.ErrModelNotFound when no snapshot exists and with
// core.ErrIncompatibleModelVersion when the snapshot was written by an
// incompatible format.
func (s *ModelStore) Load(ctx context.Context, tag string) (*ml.Model, error) {
	f, err := os.Open(s.snapshotPath(tag))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no snapshot for tag %q: %w", tag, core.ErrModelNotFound)
		}
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer gz.Close()

	var env snapshotEnvelope
	if err := gob.NewDecoder(gz).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if env.Magic != snapshotMagic {
		return nil, fmt.Errorf("snapshot for tag %q is not a model file: %w", tag, core.ErrIncompatibleModelVersion)
	}
	if env.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("snapshot for tag %q has format version %d, expected %d; retrain to regenerate the model: %w",
			tag, env.FormatVersion, FormatVersion, core.ErrIncompatibleModelVersion)
	}
	if env.Model == nil || !env.Model.Ready() {
		return nil, fmt.Errorf("snapshot for tag %q holds no trained model: %w", tag, core.ErrModelNotFound)
	}

	s.logger.Infow("Loaded model snapshot", "tag", tag, "model_id", env.Model.ID)
	return env.Model, nil
}
