// Package storage provides durable persistence for trained models: atomic
// versioned file snapshots plus a SQLite metadata registry.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the metadata database connection.
type SQLite struct {
	DB     *sql.DB
	Path   string
	logger *zap.SugaredLogger
}

// NewSQLite opens (or creates) the metadata database at dbPath and runs
// migrations. WAL mode is enabled so metadata reads never block a save.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	s := &SQLite{DB: db, Path: dbPath, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infow("SQLite metadata store ready", "path", dbPath)
	return s, nil
}

func (s *SQLite) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS models (
		id            TEXT PRIMARY KEY,
		tag           TEXT NOT NULL,
		version       TEXT NOT NULL,
		trained_at    TEXT NOT NULL,
		training_rows INTEGER NOT NULL,
		threshold     REAL NOT NULL,
		file_path     TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_models_tag_created ON models(tag, created_at DESC);
	`
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.DB == nil {
		return ErrDatabaseClosed
	}
	return s.DB.Close()
}

// ModelMetadata is one row of the model registry.
type ModelMetadata struct {
	ID           string
	Tag          string
	Version      string
	TrainedAt    time.Time
	TrainingRows int
	Threshold    float64
	FilePath     string
	CreatedAt    time.Time
}

// InsertModel records a persisted snapshot in the registry.
func (s *SQLite) InsertModel(ctx context.Context, meta *ModelMetadata) error {
	const query = `
		INSERT INTO models (id, tag, version, trained_at, training_rows, threshold, file_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.DB.ExecContext(ctx, query,
		meta.ID,
		meta.Tag,
		meta.Version,
		meta.TrainedAt.UTC().Format(time.RFC3339),
		meta.TrainingRows,
		meta.Threshold,
		meta.FilePath,
		meta.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert model metadata: %w", err)
	}

	s.logger.Infof("Registered model %s (tag %s, %d rows)", meta.ID, meta.Tag, meta.TrainingRows)
	return nil
}

// ListModels returns the registry history for a tag, newest first.
func (s *SQLite) ListModels(ctx context.Context, tag string) ([]ModelMetadata, error) {
	const query = `
		SELECT id, tag, version, trained_at, training_rows, threshold, file_path, created_at
		FROM models WHERE tag = ? ORDER BY created_at DESC
	`
	rows, err := s.DB.QueryContext(ctx, query, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var out []ModelMetadata
	for rows.Next() {
		var m ModelMetadata
		var trainedAt, createdAt string
		if err := rows.Scan(&m.ID, &m.Tag, &m.Version, &trainedAt, &m.TrainingRows, &m.Threshold, &m.FilePath, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan model metadata: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, trainedAt); err == nil {
			m.TrainedAt = t
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			m.CreatedAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
