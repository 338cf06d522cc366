package driver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/conf"
	"github.com/chameleoncloud/doni/internal/oscli"
	"github.com/chameleoncloud/doni/internal/schema"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// DefaultBalenaEndpoint is the public balenaCloud API; a configured endpoint
// can point at an openBalena instance instead.
const DefaultBalenaEndpoint = "https://api.balena-cloud.com"

// Device env var names carrying the application credential into the device's
// coordinator service.
const (
	envCredentialID     = "OS_APPLICATION_CREDENTIAL_ID"
	envCredentialSecret = "OS_APPLICATION_CREDENTIAL_SECRET"
)

// BalenaWorker registers edge devices with the Balena fleet matching their
// device type and provisions their credentials.
type BalenaWorker struct {
	client *oscli.Client
	cfg    conf.BalenaConfig
	logger *zap.Logger
}

// NewBalenaWorker returns a Balena worker from the balena config section.
func NewBalenaWorker(cfg conf.BalenaConfig, logger *zap.Logger) (*BalenaWorker, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("%w: balena.api_token is required", oscli.ErrInvalidConfig)
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = DefaultBalenaEndpoint
	}
	if cfg.CredentialServiceName == "" {
		cfg.CredentialServiceName = "coordinator"
	}

	client := &oscli.Client{
		BaseURL:       strings.TrimRight(endpoint, "/"),
		HTTPClient:    &http.Client{Timeout: oscli.DefaultTimeout},
		TokenSource:   oscli.StaticToken(cfg.APIToken),
		AuthHeader:    "Authorization",
		AuthPrefix:    "Bearer ",
		RetryAttempts: oscli.DefaultRetryAttempts,
		RetryWaitMin:  oscli.DefaultRetryWaitMin,
		RetryWaitMax:  oscli.DefaultRetryWaitMax,
	}
	return NewBalenaWorkerWithClient(client, cfg, logger), nil
}

// NewBalenaWorkerWithClient builds a worker around an existing client.
func NewBalenaWorkerWithClient(client *oscli.Client, cfg conf.BalenaConfig, logger *zap.Logger) *BalenaWorker {
	return &BalenaWorker{client: client, cfg: cfg, logger: logger}
}

func (w *BalenaWorker) WorkerType() string { return "balena" }

func (w *BalenaWorker) Fields() []worker.Field { return balenaFields() }

func balenaFields() []worker.Field {
	return []worker.Field{
		{
			Name:     "application_credential_id",
			Schema:   schema.String(),
			Required: true,
			Private:  true,
			Description: "The ID of an application credential that allows the device " +
				"to query OpenStack APIs. This credential should be scoped to the same " +
				"project that enrolled the device. It does not need to be unrestricted.",
		},
		{
			Name:        "application_credential_secret",
			Schema:      schema.String(),
			Required:    true,
			Private:     true,
			Sensitive:   true,
			Description: "The secret for the application credential.",
		},
	}
}

func (w *BalenaWorker) Process(ctx context.Context, hw *models.Hardware, windows []*models.AvailabilityWindow, stateDetails map[string]any) (worker.Result, error) {
	deviceID := toDeviceID(hw.UUID)

	if hw.Deleted() {
		if err := w.deleteDevice(ctx, deviceID); err != nil {
			return nil, err
		}
		w.logger.Info("deleted balena device", zap.String("hardware_uuid", hw.UUID))
		return worker.Success{Details: map[string]any{
			"device_id":      nil,
			"device_api_key": nil,
			"fleet_id":       nil,
			"last_seen":      nil,
		}}, nil
	}

	device, err := w.registerDevice(ctx, hw, deviceID)
	if err != nil {
		return nil, err
	}

	serviceName := w.cfg.CredentialServiceName
	credID, _ := hw.Properties["application_credential_id"].(string)
	credSecret, _ := hw.Properties["application_credential_secret"].(string)
	if err := w.syncDeviceVar(ctx, deviceID, serviceName, envCredentialID, credID); err != nil {
		return nil, err
	}
	if err := w.syncDeviceVar(ctx, deviceID, serviceName, envCredentialSecret, credSecret); err != nil {
		return nil, err
	}

	details := map[string]any{}
	// The device API key is generated once; the device owner queries doni for
	// it and bakes it into the device OS image.
	if key, ok := stateDetails["device_api_key"]; ok && key != nil {
		details["device_api_key"] = key
	} else {
		key, err := w.generateDeviceKey(ctx, device.ID)
		if err != nil {
			return nil, err
		}
		details["device_api_key"] = key
		w.logger.Info("generated device API key", zap.String("hardware_uuid", hw.UUID))
	}

	// Balena gives the device a UUID but also maintains an internal id, which
	// some operations need.
	details["device_id"] = device.ID
	details["fleet_id"] = device.FleetID
	if device.IsOnline {
		details["last_seen"] = time.Now().UTC().Format(time.RFC3339)
	} else {
		details["last_seen"] = device.LastConnectivityEvent
	}

	return worker.Success{Details: details}, nil
}

// balenaDevice is the slice of the Balena device record doni cares about.
type balenaDevice struct {
	ID                    int64  `json:"id"`
	UUID                  string `json:"uuid"`
	DeviceName            string `json:"device_name"`
	DeviceType            string `json:"device_type"`
	IsOnline              bool   `json:"is_online"`
	LastConnectivityEvent string `json:"last_connectivity_event"`
	FleetID               int64  `json:"fleet_id"`
}

// registerDevice ensures the device exists in the right fleet with the right
// name and type.
func (w *BalenaWorker) registerDevice(ctx context.Context, hw *models.Hardware, deviceID string) (*balenaDevice, error) {
	machineName := deviceMachineName(hw)

	device, err := w.getDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if device == nil {
		fleetName := w.cfg.DeviceFleetMapping[machineName]
		if fleetName == "" {
			return nil, fmt.Errorf("no fleet is configured for machine name %q", machineName)
		}
		fleetID, err := w.getFleetID(ctx, fleetName)
		if err != nil {
			return nil, err
		}

		body := map[string]any{
			"belongs_to__application": fleetID,
			"uuid":                    deviceID,
		}
		if err := w.client.DoJSON(ctx, http.MethodPost, "/v6/device", body, nil); err != nil {
			return nil, fmt.Errorf("failed to register device: %w", err)
		}
		// Balena auto-assigns a name on registration.
		if err := w.patchDevice(ctx, deviceID, map[string]any{"device_name": hw.Name}); err != nil {
			return nil, err
		}
		if err := w.patchDevice(ctx, deviceID, map[string]any{"device_type": machineName}); err != nil {
			return nil, err
		}
		w.logger.Info("registered new balena device", zap.String("hardware_uuid", hw.UUID))

		// Fetch again; the record returned from registration misses the
		// fleet linkage.
		device, err = w.getDevice(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		if device == nil {
			return nil, fmt.Errorf("device %s disappeared right after registration", deviceID)
		}
		return device, nil
	}

	if device.DeviceName != hw.Name {
		if err := w.patchDevice(ctx, deviceID, map[string]any{"device_name": hw.Name}); err != nil {
			return nil, err
		}
		w.logger.Info("updated device name", zap.String("hardware_uuid", hw.UUID))
	}
	if device.DeviceType != machineName {
		if err := w.patchDevice(ctx, deviceID, map[string]any{"device_type": machineName}); err != nil {
			return nil, err
		}
		w.logger.Info("updated device type", zap.String("hardware_uuid", hw.UUID))
	}
	return device, nil
}

// getDevice fetches a device by Balena UUID. Returns nil when none exists.
func (w *BalenaWorker) getDevice(ctx context.Context, deviceID string) (*balenaDevice, error) {
	var resp struct {
		D []struct {
			balenaDevice
			BelongsToApplication struct {
				ID int64 `json:"__id"`
			} `json:"belongs_to__application"`
		} `json:"d"`
	}
	path := "/v6/device?$filter=" + url.QueryEscape(fmt.Sprintf("uuid eq '%s'", deviceID))
	if err := w.client.DoJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	if len(resp.D) == 0 {
		return nil, nil
	}
	device := resp.D[0].balenaDevice
	device.FleetID = resp.D[0].BelongsToApplication.ID
	return &device, nil
}

func (w *BalenaWorker) getFleetID(ctx context.Context, fleetName string) (int64, error) {
	var resp struct {
		D []struct {
			ID int64 `json:"id"`
		} `json:"d"`
	}
	path := "/v6/application?$filter=" + url.QueryEscape(fmt.Sprintf("app_name eq '%s'", fleetName))
	if err := w.client.DoJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to look up fleet %q: %w", fleetName, err)
	}
	if len(resp.D) == 0 {
		return 0, fmt.Errorf("fleet %q does not exist", fleetName)
	}
	return resp.D[0].ID, nil
}

func (w *BalenaWorker) patchDevice(ctx context.Context, deviceID string, body map[string]any) error {
	path := "/v6/device?$filter=" + url.QueryEscape(fmt.Sprintf("uuid eq '%s'", deviceID))
	if err := w.client.DoJSON(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("failed to patch device: %w", err)
	}
	return nil
}

func (w *BalenaWorker) deleteDevice(ctx context.Context, deviceID string) error {
	path := "/v6/device?$filter=" + url.QueryEscape(fmt.Sprintf("uuid eq '%s'", deviceID))
	if err := w.client.DoJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

func (w *BalenaWorker) generateDeviceKey(ctx context.Context, internalID int64) (string, error) {
	var key string
	path := fmt.Sprintf("/api-key/device/%d/device-key", internalID)
	if err := w.client.DoJSON(ctx, http.MethodPost, path, map[string]any{}, &key); err != nil {
		return "", fmt.Errorf("failed to generate device key: %w", err)
	}
	return key, nil
}

// syncDeviceVar creates or updates one service-scoped device env var.
func (w *BalenaWorker) syncDeviceVar(ctx context.Context, deviceID, serviceName, key, value string) error {
	var resp struct {
		D []struct {
			ID    int64  `json:"id"`
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"d"`
	}
	path := "/v6/device_service_environment_variable?$filter=" +
		url.QueryEscape(fmt.Sprintf("device/uuid eq '%s' and name eq '%s'", deviceID, key))
	if err := w.client.DoJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return fmt.Errorf("failed to list device env vars: %w", err)
	}

	if len(resp.D) == 0 {
		body := map[string]any{
			"device":       deviceID,
			"service_name": serviceName,
			"name":         key,
			"value":        value,
		}
		if err := w.client.DoJSON(ctx, http.MethodPost, "/v6/device_service_environment_variable", body, nil); err != nil {
			return fmt.Errorf("failed to create device env var %s: %w", key, err)
		}
		w.logger.Info("created device env var", zap.String("name", key))
		return nil
	}

	existing := resp.D[0]
	if existing.Value == value {
		return nil
	}
	updatePath := fmt.Sprintf("/v6/device_service_environment_variable(%d)", existing.ID)
	if err := w.client.DoJSON(ctx, http.MethodPatch, updatePath, map[string]any{"value": value}, nil); err != nil {
		return fmt.Errorf("failed to update device env var %s: %w", key, err)
	}
	w.logger.Info("updated device env var", zap.String("name", key))
	return nil
}

// toDeviceID converts a hardware uuid to Balena's dash-less device uuid.
func toDeviceID(hardwareUUID string) string {
	return strings.ReplaceAll(hardwareUUID, "-", "")
}

// deviceMachineName picks the property naming the BalenaOS device type.
func deviceMachineName(hw *models.Hardware) string {
	if v, ok := hw.Properties["machine_name"].(string); ok && v != "" {
		return v
	}
	v, _ := hw.Properties["device_type"].(string)
	return v
}

var _ worker.Worker = (*BalenaWorker)(nil)
