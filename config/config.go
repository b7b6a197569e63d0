// Package config loads Gridsight configuration from file and environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration. Paths can be
// overridden via GRIDSIGHT_* environment variables.
type DataPaths struct {
	// DataDir is the base data directory (GRIDSIGHT_DATA_PATHS_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir" validate:"required"`
	// ModelsDir holds model snapshots (default: ${DataDir}/models)
	ModelsDir string `mapstructure:"models_dir"`
	// SQLitePath is the model registry database (default: ${DataDir}/gridsight.db)
	SQLitePath string `mapstructure:"sqlite_path"`
	// DefaultDataset is the built-in reference dataset served by query and
	// analyze-default operations (default: ${DataDir}/household_power_consumption.txt)
	DefaultDataset string `mapstructure:"default_dataset"`
}

// Config holds all configuration for the Gridsight service.
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	Detector struct {
		NumTrees        int     `mapstructure:"num_trees" validate:"gt=0"`
		SubsampleCap    int     `mapstructure:"subsample_cap" validate:"gt=0"`
		Contamination   float64 `mapstructure:"contamination" validate:"gt=0,lt=0.5"`
		Seed            int64   `mapstructure:"seed"`
		Workers         int     `mapstructure:"workers"`
		MinTrainingRows int     `mapstructure:"min_training_rows" validate:"gt=0"`
	} `mapstructure:"detector"`

	API struct {
		Host           string `mapstructure:"host"`
		Port           int    `mapstructure:"port" validate:"gt=0,lte=65535"`
		MaxUploadBytes int64  `mapstructure:"max_upload_bytes" validate:"gt=0"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second" validate:"gt=0"`
			Burst             int `mapstructure:"burst" validate:"gt=0"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Logging struct {
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"logging"`
}

func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("detector.num_trees", 100)
	viper.SetDefault("detector.subsample_cap", 256)
	viper.SetDefault("detector.contamination", 0.01)
	viper.SetDefault("detector.seed", 42)
	viper.SetDefault("detector.workers", 0)
	viper.SetDefault("detector.min_training_rows", 10)
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8000)
	viper.SetDefault("api.max_upload_bytes", 256<<20)
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)
	viper.SetDefault("logging.level", "info")
}

// LoadConfig reads gridsight.yaml (when present) and the environment, fills
// in defaults, and validates the result.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("gridsight")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("GRIDSIGHT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Derive dependent paths after the base dir is known.
	if cfg.DataPaths.ModelsDir == "" {
		cfg.DataPaths.ModelsDir = filepath.Join(cfg.DataPaths.DataDir, "models")
	}
	if cfg.DataPaths.SQLitePath == "" {
		cfg.DataPaths.SQLitePath = filepath.Join(cfg.DataPaths.DataDir, "gridsight.db")
	}
	if cfg.DataPaths.DefaultDataset == "" {
		cfg.DataPaths.DefaultDataset = filepath.Join(cfg.DataPaths.DataDir, "household_power_consumption.txt")
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
