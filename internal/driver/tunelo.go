package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/oscli"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// TuneloWorker reconciles a device's tunnel channels with the Tunelo channel
// service. The hardware's "channels" property is the desired state; the
// task's state details map channel names to the UUIDs Tunelo assigned.
type TuneloWorker struct {
	client *oscli.Client
	logger *zap.Logger
}

// NewTuneloWorker returns a Tunelo worker backed by the given client.
func NewTuneloWorker(client *oscli.Client, logger *zap.Logger) *TuneloWorker {
	return &TuneloWorker{client: client, logger: logger}
}

func (w *TuneloWorker) WorkerType() string { return "tunelo" }

// Fields is empty: the channels property is declared by the hardware types
// that enable this worker.
func (w *TuneloWorker) Fields() []worker.Field { return nil }

func (w *TuneloWorker) Process(ctx context.Context, hw *models.Hardware, windows []*models.AvailabilityWindow, stateDetails map[string]any) (worker.Result, error) {
	// Mapping of channel names to the UUIDs Tunelo assigned on earlier runs.
	recorded := map[string]string{}
	if prior, ok := stateDetails["channels"].(map[string]any); ok {
		for name, uuid := range prior {
			recorded[name], _ = uuid.(string)
		}
	}

	existing, err := w.listChannels(ctx)
	if err != nil {
		return nil, err
	}

	if hw.Deleted() {
		for _, uuid := range recorded {
			if _, ok := existing[uuid]; !ok {
				continue
			}
			if err := w.deleteChannel(ctx, uuid); err != nil {
				return nil, err
			}
		}
		return worker.Success{Details: map[string]any{"channels": nil}}, nil
	}

	desired, _ := hw.Properties["channels"].(map[string]any)

	channels := make(map[string]any, len(desired))
	claimed := make(map[string]bool, len(desired))
	for name, rawProps := range desired {
		props, _ := rawProps.(map[string]any)

		if uuid := recorded[name]; uuid != "" {
			if current, ok := existing[uuid]; ok {
				if !channelDiffers(props, current) {
					channels[name] = uuid
					claimed[uuid] = true
					continue
				}
				// Recreate when the representation drifted.
				if err := w.deleteChannel(ctx, uuid); err != nil {
					return nil, err
				}
				w.logger.Info("channel changed, recreating",
					zap.String("hardware_uuid", hw.UUID),
					zap.String("channel", name),
				)
			}
		}

		uuid, err := w.createChannel(ctx, hw.ProjectID, props)
		if err != nil {
			return nil, err
		}
		w.logger.Info("created channel",
			zap.String("hardware_uuid", hw.UUID),
			zap.String("channel", name),
			zap.String("channel_uuid", uuid),
		)
		channels[name] = uuid
		claimed[uuid] = true
	}

	// Channels we created earlier but that no longer back any desired
	// channel are torn down.
	for _, uuid := range recorded {
		if uuid == "" || claimed[uuid] {
			continue
		}
		if _, ok := existing[uuid]; !ok {
			continue
		}
		if err := w.deleteChannel(ctx, uuid); err != nil {
			return nil, err
		}
		w.logger.Info("deleted dangling channel",
			zap.String("hardware_uuid", hw.UUID),
			zap.String("channel_uuid", uuid),
		)
	}

	return worker.Success{Details: map[string]any{"channels": channels}}, nil
}

// listChannels returns existing channels keyed by UUID.
func (w *TuneloWorker) listChannels(ctx context.Context) (map[string]map[string]any, error) {
	var resp struct {
		Channels []map[string]any `json:"channels"`
	}
	if err := w.client.DoJSON(ctx, http.MethodGet, "/channels", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	existing := make(map[string]map[string]any, len(resp.Channels))
	for _, channel := range resp.Channels {
		uuid, _ := channel["uuid"].(string)
		if uuid != "" {
			existing[uuid] = channel
		}
	}
	return existing, nil
}

func (w *TuneloWorker) createChannel(ctx context.Context, projectID string, props map[string]any) (string, error) {
	body := map[string]any{
		"project_id":   projectID,
		"channel_type": props["channel_type"],
		"properties": map[string]any{
			"public_key": props["public_key"],
		},
	}

	var created struct {
		UUID string `json:"uuid"`
	}
	if err := w.client.DoJSON(ctx, http.MethodPost, "/channels", body, &created); err != nil {
		return "", fmt.Errorf("failed to create channel: %w", err)
	}
	return created.UUID, nil
}

func (w *TuneloWorker) deleteChannel(ctx context.Context, uuid string) error {
	err := w.client.DoJSON(ctx, http.MethodDelete, "/channels/"+uuid, nil, nil)
	if err != nil && !errors.Is(err, oscli.ErrNotFound) {
		return fmt.Errorf("failed to delete channel %s: %w", uuid, err)
	}
	return nil
}

// channelDiffers reports whether the desired channel properties disagree with
// the channel Tunelo holds.
func channelDiffers(desired map[string]any, current map[string]any) bool {
	if desired["channel_type"] != current["channel_type"] {
		return true
	}
	currentProps, _ := current["properties"].(map[string]any)
	return desired["public_key"] != currentProps["public_key"]
}

var _ worker.Worker = (*TuneloWorker)(nil)
