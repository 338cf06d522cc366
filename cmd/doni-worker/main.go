// Package main provides the doni worker process.
//
// This is the main entrypoint for the doni-worker binary which sweeps
// pending worker tasks and reconciles hardware state with external services.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/db"
	"github.com/chameleoncloud/doni/internal/driver"
	"github.com/chameleoncloud/doni/internal/logging"
	"github.com/chameleoncloud/doni/internal/manager"
	"github.com/chameleoncloud/doni/internal/metrics"
	"github.com/chameleoncloud/doni/internal/service"
)

func main() {
	configPath := flag.String("config", "", "Path to the config file (default: ./doni.yaml, /etc/doni/doni.yaml)")
	flag.Parse()

	cfg, err := conf.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateWorker(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.MustNewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	metrics.MustInit()

	logger.Info("starting doni-worker",
		zap.Strings("hardware_types", cfg.Worker.EnabledHardwareTypes),
		zap.Strings("worker_types", cfg.Worker.EnabledWorkerTypes),
		zap.Duration("interval", cfg.Worker.ProcessPendingInterval),
	)

	database, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database, logger); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	registry, err := driver.Load(cfg, logger)
	if err != nil {
		logger.Fatal("failed to load drivers", zap.Error(err))
	}

	hardwareService := service.NewHardwareService(database, logger, registry)
	windowService := service.NewAvailabilityWindowService(database, logger)
	taskService := service.NewWorkerTaskService(database, logger)

	mgr, err := manager.New(cfg.Worker, logger, registry, hardwareService, windowService, taskService)
	if err != nil {
		logger.Fatal("failed to create manager", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker manager failed", zap.Error(err))
	}
	logger.Info("doni-worker stopped")
}
