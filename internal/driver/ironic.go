package driver

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/oscli"
	"github.com/chameleoncloud/doni/internal/schema"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// IronicWorker registers bare metal nodes with Ironic and keeps their
// out-of-band management info in sync.
type IronicWorker struct {
	client *oscli.Client
	logger *zap.Logger
}

// NewIronicWorker returns an Ironic worker backed by the given client.
func NewIronicWorker(client *oscli.Client, logger *zap.Logger) *IronicWorker {
	return &IronicWorker{client: client, logger: logger}
}

func (w *IronicWorker) WorkerType() string { return "ironic" }

func (w *IronicWorker) Fields() []worker.Field { return ironicFields() }

func ironicFields() []worker.Field {
	return []worker.Field{
		{
			Name:        "ipmi_username",
			Schema:      schema.String(),
			Required:    true,
			Private:     true,
			Description: "The IPMI username for out-of-band management.",
		},
		{
			Name:        "ipmi_password",
			Schema:      schema.String(),
			Required:    true,
			Private:     true,
			Sensitive:   true,
			Description: "The IPMI password for out-of-band management.",
		},
		{
			Name:        "ipmi_terminal_port",
			Schema:      schema.PortRange(1, 65536),
			Description: "The port for the serial-over-LAN console.",
		},
	}
}

func (w *IronicWorker) Process(ctx context.Context, hw *models.Hardware, windows []*models.AvailabilityWindow, stateDetails map[string]any) (worker.Result, error) {
	nodePath := "/v1/nodes/" + hw.UUID

	if hw.Deleted() {
		err := w.client.DoJSON(ctx, http.MethodDelete, nodePath, nil, nil)
		if errors.Is(err, oscli.ErrConflict) {
			// Node is locked or still provisioning; retry later.
			return worker.Defer{Reason: "node is busy, cannot delete yet"}, nil
		}
		if err != nil && !errors.Is(err, oscli.ErrNotFound) {
			return nil, err
		}
		w.logger.Info("deleted ironic node", zap.String("hardware_uuid", hw.UUID))
		return worker.Success{Details: map[string]any{"ironic_node_uuid": nil}}, nil
	}

	var node map[string]any
	err := w.client.DoJSON(ctx, http.MethodGet, nodePath, nil, &node)
	switch {
	case errors.Is(err, oscli.ErrNotFound):
		return w.createNode(ctx, hw)
	case err != nil:
		return nil, err
	}

	return w.updateNode(ctx, hw, node)
}

// createNode enrolls the hardware as a new Ironic node.
func (w *IronicWorker) createNode(ctx context.Context, hw *models.Hardware) (worker.Result, error) {
	var node map[string]any
	err := w.client.DoJSON(ctx, http.MethodPost, "/v1/nodes", w.nodeBody(hw), &node)
	if errors.Is(err, oscli.ErrConflict) {
		return worker.Defer{Reason: "node already exists under another name"}, nil
	}
	if err != nil {
		return nil, err
	}

	w.logger.Info("created ironic node", zap.String("hardware_uuid", hw.UUID))
	return worker.Success{Details: map[string]any{
		"ironic_node_uuid": node["uuid"],
		"node_created_at":  node["created_at"],
	}}, nil
}

// updateNode patches name and driver info when they drifted from the
// registry.
func (w *IronicWorker) updateNode(ctx context.Context, hw *models.Hardware, node map[string]any) (worker.Result, error) {
	desired := w.nodeBody(hw)

	var patch []map[string]any
	if node["name"] != desired["name"] {
		patch = append(patch, map[string]any{"op": "replace", "path": "/name", "value": desired["name"]})
	}
	currentInfo, _ := node["driver_info"].(map[string]any)
	for key, want := range desired["driver_info"].(map[string]any) {
		if currentInfo[key] != want {
			patch = append(patch, map[string]any{"op": "replace", "path": "/driver_info/" + key, "value": want})
		}
	}

	if len(patch) == 0 {
		return worker.Success{}, nil
	}

	var updated map[string]any
	err := w.client.DoJSON(ctx, http.MethodPatch, "/v1/nodes/"+hw.UUID, patch, &updated)
	if errors.Is(err, oscli.ErrConflict) {
		return worker.Defer{Reason: "node is locked, cannot update yet"}, nil
	}
	if err != nil {
		return nil, err
	}

	return worker.Success{Details: map[string]any{
		"ironic_node_uuid": updated["uuid"],
		"node_updated_at":  updated["updated_at"],
	}}, nil
}

func (w *IronicWorker) nodeBody(hw *models.Hardware) map[string]any {
	props := hw.Properties
	driverInfo := map[string]any{
		"ipmi_address":  props["management_address"],
		"ipmi_username": props["ipmi_username"],
		"ipmi_password": props["ipmi_password"],
	}
	if port, ok := props["ipmi_terminal_port"]; ok && port != nil {
		driverInfo["ipmi_terminal_port"] = port
	}

	body := map[string]any{
		"uuid":        hw.UUID,
		"name":        hw.Name,
		"driver":      "ipmi",
		"driver_info": driverInfo,
	}
	if arch, ok := props["cpu_arch"]; ok && arch != nil {
		body["properties"] = map[string]any{"cpu_arch": arch}
	}
	return body
}

var _ worker.Worker = (*IronicWorker)(nil)
