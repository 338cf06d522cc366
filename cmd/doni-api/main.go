// Package main provides the doni API server.
//
// This is the main entrypoint for the doni-api binary which serves the
// hardware registry HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/api"
	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/db"
	"github.com/chameleoncloud/doni/internal/driver"
	"github.com/chameleoncloud/doni/internal/logging"
	"github.com/chameleoncloud/doni/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to the config file (default: ./doni.yaml, /etc/doni/doni.yaml)")
	flag.Parse()

	cfg, err := conf.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateAPI(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.MustNewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	metrics.MustInit()

	logger.Info("starting doni-api",
		zap.Int("port", cfg.API.Port),
		zap.String("database", cfg.Database.Path),
		zap.String("log_level", cfg.Logging.Level),
	)

	database, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database, logger); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// The API only consults hardware types, so worker drivers that need
	// external credentials are not loaded here.
	registryCfg := *cfg
	registryCfg.Worker.EnabledWorkerTypes = nil
	registry, err := driver.Load(&registryCfg, logger)
	if err != nil {
		logger.Fatal("failed to load drivers", zap.Error(err))
	}

	router := api.SetupRouter(&api.RouterConfig{
		DB:             database,
		Logger:         logger,
		AuthSecret:     cfg.API.AuthSecret,
		Registry:       registry,
		AllowOrigins:   cfg.API.CORSOrigins,
		RateLimitRPS:   cfg.API.RateLimitRPS,
		RateLimitBurst: cfg.API.RateLimitBurst,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown did not complete cleanly", zap.Error(err))
		}
	}
}
