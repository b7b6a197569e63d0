// Package cmd provides command-line interface commands for Gridsight.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gridsight/config"
	"gridsight/core"
	"gridsight/ingest"
	"gridsight/service"
	"gridsight/storage"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for detector commands
var (
	outputJSON bool
	noColor    bool
	quiet      bool
	modelsDir  string
)

// defaultTimeout bounds CLI operations; training the full reference dataset
// stays well under this.
const defaultTimeout = 10 * time.Minute

// NewDetectorCmd creates the root detector command with all subcommands.
func NewDetectorCmd() *cobra.Command {
	detectorCmd := &cobra.Command{
		Use:   "gridsight",
		Short: "Train and query the power consumption anomaly detector",
		Long: `Train an isolation forest on household power consumption data and score
records against it, without going through the HTTP API.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	detectorCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	detectorCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	detectorCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	detectorCmd.PersistentFlags().StringVar(&modelsDir, "models-dir", "", "Model snapshot directory (overrides config)")

	detectorCmd.AddCommand(newTrainCmd())
	detectorCmd.AddCommand(newPredictCmd())

	return detectorCmd
}

// newTrainCmd creates the 'train' subcommand
func newTrainCmd() *cobra.Command {
	var (
		seed          int64
		numTrees      int
		contamination float64
	)

	cmd := &cobra.Command{
		Use:   "train [file]",
		Short: "Train a model from a raw consumption file",
		Long: `Train an isolation forest from a raw consumption file and publish it as
the current model. Without a file argument the configured default dataset
is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			svc, cleanup, err := initService(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var s *spinner.Spinner
			if !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Training model..."
				s.Start()
			}

			summary, err := trainFromArgs(ctx, svc, args)

			if s != nil {
				s.Stop()
			}

			if err != nil {
				return fmt.Errorf("training failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(summary)
			}
			renderTrainingSummary(summary)
			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed override")
	cmd.Flags().IntVar(&numTrees, "trees", 0, "Number of trees override")
	cmd.Flags().Float64Var(&contamination, "contamination", 0, "Contamination override")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		detectorOverrides.seed = seed
		detectorOverrides.seedSet = cmd.Flags().Changed("seed")
		detectorOverrides.numTrees = numTrees
		detectorOverrides.contamination = contamination
	}

	return cmd
}

// newPredictCmd creates the 'predict' subcommand
func newPredictCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "predict [file]",
		Short: "Score a raw consumption file against the current model",
		Long: `Score every record in a raw consumption file against the currently
published model. Without a file argument the configured default dataset
is scored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			svc, cleanup, err := initService(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := predictFromArgs(ctx, svc, args)
			if err != nil {
				return fmt.Errorf("prediction failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(result)
			}
			renderPredictionResult(result, top)
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 10, "Number of anomalies to print")

	return cmd
}

// detectorOverrides carries train flag overrides into the loaded config.
var detectorOverrides struct {
	seed          int64
	seedSet       bool
	numTrees      int
	contamination float64
}

// initService loads the configuration and wires a service instance for CLI
// use. The returned cleanup closes the registry database.
func initService(cmd *cobra.Command) (*service.Service, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if modelsDir != "" {
		cfg.DataPaths.ModelsDir = modelsDir
	}
	if detectorOverrides.seedSet {
		cfg.Detector.Seed = detectorOverrides.seed
	}
	if detectorOverrides.numTrees > 0 {
		cfg.Detector.NumTrees = detectorOverrides.numTrees
	}
	if detectorOverrides.contamination > 0 {
		cfg.Detector.Contamination = detectorOverrides.contamination
	}

	// CLI runs stay quiet on the structured log side; command output goes
	// through the formatters instead.
	sugar := zap.NewNop().Sugar()
	if !quiet && os.Getenv("GRIDSIGHT_CLI_VERBOSE") == "1" {
		logger, err := zap.NewProduction()
		if err == nil {
			sugar = logger.Sugar()
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DataPaths.SQLitePath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	sqlite, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize model registry: %w", err)
	}

	store, err := storage.NewModelStore(cfg.DataPaths.ModelsDir, sqlite, sugar)
	if err != nil {
		sqlite.Close()
		return nil, nil, fmt.Errorf("failed to initialize model store: %w", err)
	}

	svc, err := service.New(cfg, store, sugar)
	if err != nil {
		sqlite.Close()
		return nil, nil, fmt.Errorf("failed to initialize service: %w", err)
	}

	cleanup := func() {
		sqlite.Close()
	}
	return svc, cleanup, nil
}

// trainFromArgs trains from the named file, or the default dataset when no
// file is given.
func trainFromArgs(ctx context.Context, svc *service.Service, args []string) (*core.TrainingSummary, error) {
	if len(args) == 0 {
		return svc.TrainDefaultDataset(ctx)
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()
	return svc.Train(ctx, f, ingest.FormatForFilename(args[0]))
}

// predictFromArgs scores the named file, or the default dataset when no file
// is given.
func predictFromArgs(ctx context.Context, svc *service.Service, args []string) (*core.PredictionResult, error) {
	if len(args) == 0 {
		return svc.PredictDefaultDataset(ctx)
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()
	return svc.Predict(ctx, f, ingest.FormatForFilename(args[0]))
}
