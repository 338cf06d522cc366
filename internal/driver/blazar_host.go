package driver

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/oscli"
	"github.com/chameleoncloud/doni/internal/schema"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

var placementSchema = schema.Fragment{
	"type": "object",
	"properties": map[string]schema.Fragment{
		"rack": schema.String(),
		"node": schema.String(),
	},
	"additionalProperties": false,
}

// BlazarPhysicalHostWorker syncs bare metal hosts into Blazar's physical host
// plugin so they can be reserved.
type BlazarPhysicalHostWorker struct {
	blazarWorker
}

// NewBlazarPhysicalHostWorker returns a physical host worker backed by the
// given Blazar client.
func NewBlazarPhysicalHostWorker(client *oscli.Client, logger *zap.Logger) *BlazarPhysicalHostWorker {
	w := &BlazarPhysicalHostWorker{blazarWorker{
		client:       client,
		logger:       logger,
		workerType:   "blazar.physical_host",
		resourcePath: "/os-hosts",
		resourceKind: "host",
		listKey:      "hosts",
		fields:       blazarHostFields(),
		reservationValues: func(hardwareUUID string) map[string]any {
			return map[string]any{
				"resource_type":         "physical:host",
				"min":                   1,
				"max":                   1,
				"hypervisor_properties": nil,
				"resource_properties":   fmt.Sprintf(`["==","$uid","%s"]`, hardwareUUID),
			}
		},
	}}
	w.expectedState = physicalHostState
	return w
}

func blazarHostFields() []worker.Field {
	return []worker.Field{
		{
			Name:        "node_type",
			Schema:      schema.String(),
			Description: "A high-level classification of the type of node.",
		},
		{
			Name:        "placement",
			Schema:      placementSchema,
			Description: "Information about the physical placement of the node.",
		},
		{
			Name:        "su_factor",
			Schema:      schema.Number(),
			Default:     1.0,
			Description: "The service unit (SU) hourly cost of the resource.",
		},
	}
}

// physicalHostState builds the Blazar host body for a hardware item. The
// "name" Blazar tracks must match what Nova uses to identify the node, which
// is the hardware uuid because that is what Ironic passes to Nova.
//
// Blazar does not allow deleting extra capabilities, and null values trigger
// errors during create and update, so absent fields are simply omitted. This
// means a capability can never be unset, but that limitation is Blazar's.
func physicalHostState(hw *models.Hardware) map[string]any {
	props := hw.Properties
	body := map[string]any{
		"uid":       hw.UUID,
		"node_name": hw.Name,
	}

	if v, ok := props["node_type"]; ok && v != nil {
		body["node_type"] = v
	}
	if v, ok := props["cpu_arch"]; ok && v != nil {
		body["cpu_arch"] = v
	}
	if v, ok := props["su_factor"]; ok && v != nil {
		body["su_factor"] = v
	}
	if placement, ok := props["placement"].(map[string]any); ok {
		if v, ok := placement["node"]; ok && v != nil {
			body["placement.node"] = v
		}
		if v, ok := placement["rack"]; ok && v != nil {
			body["placement.rack"] = v
		}
	}
	return body
}

// ImportExisting lists the hosts Blazar already knows about, for seeding a
// fresh registry from a running deployment.
func (w *BlazarPhysicalHostWorker) ImportExisting(ctx context.Context) ([]worker.ImportedHardware, error) {
	var resp struct {
		Hosts []map[string]any `json:"hosts"`
	}
	if err := w.client.DoJSON(ctx, http.MethodGet, w.resourcePath, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list blazar hosts: %w", err)
	}

	imported := make([]worker.ImportedHardware, 0, len(resp.Hosts))
	for _, host := range resp.Hosts {
		uuid, _ := host["hypervisor_hostname"].(string)
		name, _ := host["node_name"].(string)
		imported = append(imported, worker.ImportedHardware{
			UUID:         uuid,
			Name:         name,
			HardwareType: "baremetal",
			Properties: map[string]any{
				"node_type": host["node_type"],
				"placement": map[string]any{
					"node": host["placement.node"],
					"rack": host["placement.rack"],
				},
			},
		})
	}
	return imported, nil
}
