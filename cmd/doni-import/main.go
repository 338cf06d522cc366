// Package main provides doni-import, a bulk enrollment tool.
//
// It enrolls hardware from a YAML manifest, or discovers existing hardware
// through a worker driver that knows how to enumerate its external service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/db"
	"github.com/chameleoncloud/doni/internal/driver"
	"github.com/chameleoncloud/doni/internal/logging"
	"github.com/chameleoncloud/doni/internal/metrics"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
	"github.com/chameleoncloud/doni/pkg/manifest"
)

func main() {
	configPath := flag.String("config", "", "Path to the config file (default: ./doni.yaml, /etc/doni/doni.yaml)")
	manifestPath := flag.String("manifest", "", "YAML manifest of hardware to enroll")
	source := flag.String("source", "", "Worker driver to discover existing hardware from (e.g. balena)")
	dryRun := flag.Bool("dry-run", false, "Print what would be enrolled without writing")
	flag.Parse()

	if (*manifestPath == "") == (*source == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -manifest or -source is required")
		os.Exit(1)
	}

	cfg, err := conf.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.MustNewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	metrics.MustInit()

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
	taskService := service.NewWorkerTaskService(database, logger)

	ctx := context.Background()
	var items []manifest.Item
	if *manifestPath != "" {
		items, err = loadManifest(*manifestPath)
	} else {
		items, err = discover(ctx, registry, *source)
	}
	if err != nil {
		logger.Fatal("failed to collect hardware to enroll", zap.Error(err))
	}

	enrolled, skipped := 0, 0
	for _, item := range items {
		if *dryRun {
			fmt.Printf("would enroll %s (%s, project %s)\n", item.Name, item.HardwareType, item.ProjectID)
			continue
		}

		hw, err := hardwareService.EnrollHardware(ctx, &models.HardwareEnrollRequest{
			UUID:         item.UUID,
			Name:         item.Name,
			ProjectID:    item.ProjectID,
			HardwareType: item.HardwareType,
			Properties:   item.Properties,
		})
		switch {
		case errors.Is(err, models.ErrDuplicateName) || errors.Is(err, models.ErrDuplicateUUID):
			logger.Info("skipping already enrolled hardware", zap.String("name", item.Name))
			skipped++
		case err != nil:
			logger.Fatal("enrollment failed",
				zap.String("name", item.Name),
				zap.Error(err),
			)
		default:
			// Discovered hardware already exists in the external service, so
			// its tasks start converged instead of waiting on a sweep.
			if *source != "" {
				if err := markTasksSteady(ctx, taskService, hw.UUID); err != nil {
					logger.Fatal("failed to settle tasks for imported hardware",
						zap.String("uuid", hw.UUID),
						zap.Error(err),
					)
				}
			}
			logger.Info("enrolled hardware",
				zap.String("uuid", hw.UUID),
				zap.String("name", hw.Name),
			)
			enrolled++
		}
	}

	fmt.Printf("Enrolled %d hardware items (%d already present)\n", enrolled, skipped)
}

func loadManifest(path string) ([]manifest.Item, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m.Hardware, nil
}

// markTasksSteady completes every task of a freshly imported hardware item so
// workers do not re-create external state that already exists.
func markTasksSteady(ctx context.Context, tasks *service.WorkerTaskService, hardwareUUID string) error {
	pending, err := tasks.TasksForHardware(ctx, hardwareUUID)
	if err != nil {
		return err
	}
	for _, task := range pending {
		if err := tasks.CompleteTask(ctx, task.UUID, models.WorkerStateSteady, task.StateDetails); err != nil {
			return err
		}
	}
	return nil
}

// discover asks a loaded worker driver for the hardware its external service
// already knows about.
func discover(ctx context.Context, registry *driver.Registry, source string) ([]manifest.Item, error) {
	w, err := registry.Worker(source)
	if err != nil {
		return nil, err
	}
	importer, ok := w.(worker.Importer)
	if !ok {
		return nil, fmt.Errorf("worker %q cannot enumerate existing hardware", source)
	}

	found, err := importer.ImportExisting(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery through %q failed: %w", source, err)
	}

	items := make([]manifest.Item, 0, len(found))
	for _, f := range found {
		items = append(items, manifest.Item{
			UUID:         f.UUID,
			Name:         f.Name,
			ProjectID:    f.ProjectID,
			HardwareType: f.HardwareType,
			Properties:   f.Properties,
		})
	}
	return items, nil
}
