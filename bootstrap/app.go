// Package bootstrap wires the Gridsight components together: logger, config,
// storage, the anomaly service, and the HTTP API.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridsight/api"
	"gridsight/config"
	"gridsight/service"
	"gridsight/storage"

	"go.uber.org/zap"
)

// App represents the Gridsight application with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	DB         *storage.SQLite
	ModelStore *storage.ModelStore
	Service    *service.Service
	APIServer  *api.API
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Gridsight anomaly detection service starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	sugar.Info("Running pre-flight checks...")
	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	db, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		sugar.Error(ClassifySQLiteError(err, cfg.DataPaths.SQLitePath))
		return nil, fmt.Errorf("failed to initialize model registry: %w", err)
	}
	app.DB = db

	store, err := storage.NewModelStore(cfg.DataPaths.ModelsDir, db, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model store: %w", err)
	}
	app.ModelStore = store

	svc, err := service.New(cfg, store, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize anomaly service: %w", err)
	}
	app.Service = svc

	app.APIServer = api.NewAPI(svc, cfg, sugar)

	return app, nil
}

// Start starts the API server.
func (a *App) Start(ctx context.Context) error {
	if err := a.APIServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.APIServer.Shutdown(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	if a.DB != nil {
		a.DB.Close()
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}
