package driver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/oscli"
	"github.com/chameleoncloud/doni/internal/schema"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// BlazarDeviceWorker syncs edge devices into Blazar's device plugin so they
// can be reserved.
type BlazarDeviceWorker struct {
	blazarWorker
}

// NewBlazarDeviceWorker returns a device worker backed by the given Blazar
// client.
func NewBlazarDeviceWorker(client *oscli.Client, logger *zap.Logger) *BlazarDeviceWorker {
	w := &BlazarDeviceWorker{blazarWorker{
		client:       client,
		logger:       logger,
		workerType:   "blazar.device",
		resourcePath: "/devices",
		resourceKind: "device",
		listKey:      "devices",
		fields:       blazarDeviceFields(),
		reservationValues: func(hardwareUUID string) map[string]any {
			return map[string]any{
				"resource_type":       "device",
				"min":                 1,
				"max":                 1,
				"resource_properties": fmt.Sprintf(`["==","$uid","%s"]`, hardwareUUID),
			}
		},
	}}
	w.expectedState = deviceState
	return w
}

func blazarDeviceFields() []worker.Field {
	return []worker.Field{
		{
			Name:     "blazar_device_driver",
			Schema:   schema.String(),
			Required: true,
			Default:  "k8s",
			Description: "Which Blazar device driver plugin to use to make the " +
				"device reservable. Defaults to k8s.",
		},
	}
}

// deviceState builds the Blazar device body for a hardware item.
func deviceState(hw *models.Hardware) map[string]any {
	props := hw.Properties
	body := map[string]any{
		"uid":       hw.UUID,
		"node_name": hw.Name,
	}
	if v, ok := props["blazar_device_driver"]; ok && v != nil {
		body["device_driver"] = v
	}
	if v, ok := props["machine_name"]; ok && v != nil {
		body["machine_name"] = v
	}
	if v, ok := props["device_type"]; ok && v != nil {
		body["device_type"] = v
	}
	return body
}

var (
	_ worker.Worker   = (*BlazarDeviceWorker)(nil)
	_ worker.Worker   = (*BlazarPhysicalHostWorker)(nil)
	_ worker.Importer = (*BlazarPhysicalHostWorker)(nil)
)
