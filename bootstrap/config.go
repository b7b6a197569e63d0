package bootstrap

import (
	"fmt"
	"os"

	"gridsight/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logLevel is adjustable after the config is loaded; the logger itself is
// created before the config so that config loading can log.
var logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// InitLogger initializes the zap logger with colored console output.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	core := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stdout),
		logLevel,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// SetLogLevel applies the configured logging level to the running logger.
func SetLogLevel(level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logLevel.SetLevel(parsed)
	return nil
}

// InitConfig loads the application configuration.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}

	if err := SetLogLevel(cfg.Logging.Level); err != nil {
		sugar.Warnw("Keeping default log level", "error", err)
	}

	sugar.Infow("Data paths configuration",
		"data_dir", cfg.DataPaths.DataDir,
		"models_dir", cfg.DataPaths.ModelsDir,
		"sqlite_path", cfg.DataPaths.SQLitePath,
		"default_dataset", cfg.DataPaths.DefaultDataset)

	sugar.Infow("Config loaded",
		"api_port", cfg.API.Port,
		"num_trees", cfg.Detector.NumTrees,
		"contamination", cfg.Detector.Contamination)

	return cfg, nil
}
