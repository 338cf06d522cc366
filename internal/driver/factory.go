package driver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/oscli"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// Load builds a registry holding the hardware types and workers enabled in
// the configuration. Unknown driver names fail loading so a typo in the
// config is caught at startup rather than at task time.
func Load(cfg *conf.Config, logger *zap.Logger) (*Registry, error) {
	registry := NewRegistry(logger)

	hardwareTypes := map[string]func() HardwareType{
		"fake-hardware": NewFakeHardware,
		"baremetal":     NewBaremetal,
		"device.balena": NewBalenaDevice,
		"workernode":    NewWorkerNode,
		"device.local":  NewLocalDevice,
	}
	for _, name := range cfg.Worker.EnabledHardwareTypes {
		construct, ok := hardwareTypes[name]
		if !ok {
			return nil, fmt.Errorf("%w: hardware type %q", models.ErrDriverNotFound, name)
		}
		if err := registry.RegisterHardwareType(construct()); err != nil {
			return nil, err
		}
	}

	// The Blazar client is shared by both blazar workers.
	var blazarClient *oscli.Client
	blazar := func() (*oscli.Client, error) {
		if blazarClient == nil {
			client, err := oscli.New(cfg.Blazar)
			if err != nil {
				return nil, fmt.Errorf("blazar: %w", err)
			}
			blazarClient = client
		}
		return blazarClient, nil
	}

	for _, name := range cfg.Worker.EnabledWorkerTypes {
		var w worker.Worker
		var err error

		switch name {
		case "fake-worker":
			w = NewFakeWorker(logger)
		case "ironic":
			var client *oscli.Client
			if client, err = oscli.New(cfg.Ironic); err == nil {
				w = NewIronicWorker(client, logger)
			}
		case "blazar.physical_host":
			var client *oscli.Client
			if client, err = blazar(); err == nil {
				w = NewBlazarPhysicalHostWorker(client, logger)
			}
		case "blazar.device":
			var client *oscli.Client
			if client, err = blazar(); err == nil {
				w = NewBlazarDeviceWorker(client, logger)
			}
		case "tunelo":
			var client *oscli.Client
			if client, err = oscli.New(cfg.Tunelo); err == nil {
				w = NewTuneloWorker(client, logger)
			}
		case "k8s":
			w, err = NewK8sWorker(cfg.K8s, logger)
		case "balena":
			w, err = NewBalenaWorker(cfg.Balena, logger)
		default:
			return nil, fmt.Errorf("%w: worker type %q", models.ErrDriverNotFound, name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load worker %q: %w", name, err)
		}

		if err := registry.RegisterWorker(w); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
