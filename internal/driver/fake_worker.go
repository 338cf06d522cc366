package driver

import (
	"context"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/schema"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// FakeWorker is a worker that talks to nothing, useful for development and
// testing the task lifecycle end to end.
type FakeWorker struct {
	logger *zap.Logger
}

// NewFakeWorker returns a fake worker.
func NewFakeWorker(logger *zap.Logger) *FakeWorker {
	return &FakeWorker{logger: logger}
}

func (w *FakeWorker) WorkerType() string { return "fake-worker" }

func (w *FakeWorker) Fields() []worker.Field { return fakeWorkerFields() }

func fakeWorkerFields() []worker.Field {
	return []worker.Field{
		{Name: "private-field", Schema: schema.String(), Private: true},
		{Name: "private-and-sensitive-field", Schema: schema.String(), Private: true, Sensitive: true},
		{Name: "sensitive-field", Schema: schema.String(), Sensitive: true},
	}
}

func (w *FakeWorker) Process(ctx context.Context, hw *models.Hardware, windows []*models.AvailabilityWindow, stateDetails map[string]any) (worker.Result, error) {
	w.logger.Info("processing hardware",
		zap.String("hardware_uuid", hw.UUID),
		zap.Bool("deleted", hw.Deleted()),
	)
	return worker.Success{Details: map[string]any{
		"fake-result": "fake-worker-prefix-" + hw.UUID,
	}}, nil
}
