// Package driver holds the hardware type and worker drivers known to doni,
// and the registry the API and worker processes look them up in.
package driver

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/schema"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// HardwareType describes one class of enrollable hardware: which workers run
// for it, which properties every item of the type carries, and which worker
// fields the type pins to fixed values.
type HardwareType interface {
	// Name is the unique hardware type name, e.g. "baremetal".
	Name() string

	// EnabledWorkers lists the worker types that run for this hardware type.
	EnabledWorkers() []string

	// DefaultFields lists properties every item of this type carries.
	DefaultFields() []worker.Field

	// WorkerOverrides maps worker field names to pinned values. An override
	// is applied on enrollment and cannot be changed by the caller.
	WorkerOverrides() map[string]any
}

// Registry holds the loaded drivers for one process.
type Registry struct {
	hardwareTypes map[string]HardwareType
	workers       map[string]worker.Worker
	logger        *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		hardwareTypes: make(map[string]HardwareType),
		workers:       make(map[string]worker.Worker),
		logger:        logger,
	}
}

// RegisterHardwareType adds a hardware type driver to the registry.
func (r *Registry) RegisterHardwareType(hwType HardwareType) error {
	name := hwType.Name()
	if _, exists := r.hardwareTypes[name]; exists {
		return fmt.Errorf("hardware type %q registered twice", name)
	}
	r.hardwareTypes[name] = hwType
	r.logger.Info("registered hardware type", zap.String("hardware_type", name))
	return nil
}

// RegisterWorker adds a worker driver to the registry.
func (r *Registry) RegisterWorker(w worker.Worker) error {
	name := w.WorkerType()
	if _, exists := r.workers[name]; exists {
		return fmt.Errorf("worker type %q registered twice", name)
	}
	r.workers[name] = w
	r.logger.Info("registered worker", zap.String("worker_type", name))
	return nil
}

// HardwareType looks up a hardware type driver by name.
func (r *Registry) HardwareType(name string) (HardwareType, error) {
	hwType, ok := r.hardwareTypes[name]
	if !ok {
		return nil, fmt.Errorf("%w: hardware type %q", models.ErrDriverNotFound, name)
	}
	return hwType, nil
}

// Worker looks up a worker driver by name.
func (r *Registry) Worker(name string) (worker.Worker, error) {
	w, ok := r.workers[name]
	if !ok {
		return nil, fmt.Errorf("%w: worker type %q", models.ErrDriverNotFound, name)
	}
	return w, nil
}

// HardwareTypeNames lists the registered hardware types, sorted.
func (r *Registry) HardwareTypeNames() []string {
	names := make([]string, 0, len(r.hardwareTypes))
	for name := range r.hardwareTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WorkerNames lists the registered workers, sorted.
func (r *Registry) WorkerNames() []string {
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledWorkers returns the loaded workers that run for the given hardware
// type. Workers the hardware type enables but that are not loaded in this
// process are skipped; enrollment still creates their tasks so a dedicated
// worker process can pick them up.
func (r *Registry) EnabledWorkers(hardwareType string) ([]worker.Worker, error) {
	hwType, err := r.HardwareType(hardwareType)
	if err != nil {
		return nil, err
	}

	var workers []worker.Worker
	for _, name := range hwType.EnabledWorkers() {
		if w, ok := r.workers[name]; ok {
			workers = append(workers, w)
		}
	}
	return workers, nil
}

// declaredWorkerFields lists the property fields of every built-in worker
// type. Field composition must not depend on which workers a process
// instantiated: the API process loads no worker clients, yet has to validate
// the same property schema the worker process does.
var declaredWorkerFields = map[string]func() []worker.Field{
	"fake-worker":          fakeWorkerFields,
	"ironic":               ironicFields,
	"blazar.physical_host": blazarHostFields,
	"blazar.device":        blazarDeviceFields,
	"k8s":                  func() []worker.Field { return nil },
	"tunelo":               func() []worker.Field { return nil },
	"balena":               balenaFields,
}

// Fields returns every property field relevant to the hardware type: the
// type's own defaults plus the fields of each enabled worker. When a worker
// field shadows a default field of the same name the default wins. Enabled
// workers contribute their declared fields whether or not they are loaded in
// this process.
func (r *Registry) Fields(hardwareType string) ([]worker.Field, error) {
	hwType, err := r.HardwareType(hardwareType)
	if err != nil {
		return nil, err
	}

	fields := append([]worker.Field{}, hwType.DefaultFields()...)
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f.Name] = true
	}

	for _, name := range hwType.EnabledWorkers() {
		var workerFields []worker.Field
		if w, ok := r.workers[name]; ok {
			workerFields = w.Fields()
		} else if declared, ok := declaredWorkerFields[name]; ok {
			workerFields = declared()
		}
		for _, f := range workerFields {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// Validator compiles the property schema for a hardware type from its
// composed field list.
func (r *Registry) Validator(hardwareType string) (*schema.Validator, error) {
	fields, err := r.Fields(hardwareType)
	if err != nil {
		return nil, err
	}

	properties := make(map[string]schema.Fragment, len(fields))
	var required []string
	for _, f := range fields {
		properties[f.Name] = f.Schema
		if f.Required {
			required = append(required, f.Name)
		}
	}

	// Property keys no driver declared are rejected at the document root.
	doc := schema.Object(properties, required)
	doc["additionalProperties"] = false
	return schema.NewValidator(doc)
}
