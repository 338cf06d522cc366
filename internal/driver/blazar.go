package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/oscli"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/models"
)

// Leases doni manages in Blazar carry this name prefix; leases without it are
// never touched.
const AWLeasePrefix = "availability_window_"

// Blazar compares lease dates at minute precision.
const blazarDateFormat = "2006-01-02 15:04"

// blazarWorker syncs a hardware item to one Blazar resource type and keeps
// the item's availability windows mirrored as Blazar leases.
type blazarWorker struct {
	client *oscli.Client
	logger *zap.Logger

	workerType   string
	resourcePath string
	resourceKind string
	listKey      string
	fields       []worker.Field

	// expectedState builds the resource body Blazar should converge to.
	expectedState func(hw *models.Hardware) map[string]any

	// reservationValues builds the reservation constraint pinning a lease
	// to the hardware item.
	reservationValues func(hardwareUUID string) map[string]any
}

func (w *blazarWorker) WorkerType() string     { return w.workerType }
func (w *blazarWorker) Fields() []worker.Field { return w.fields }

func (w *blazarWorker) Process(ctx context.Context, hw *models.Hardware, windows []*models.AvailabilityWindow, stateDetails map[string]any) (worker.Result, error) {
	if hw.Deleted() {
		return w.teardown(ctx, hw, stateDetails)
	}

	expected := w.expectedState(hw)

	var result worker.Result
	var err error
	if resourceID, ok := stateDetails["blazar_resource_id"].(string); ok && resourceID != "" {
		result, err = w.resourceUpdate(ctx, resourceID, expected)
	} else {
		// Without a cached resource id, try to create the resource. When it
		// already exists Blazar matches the uuid and returns a conflict.
		result, err = w.resourceCreate(ctx, hw.UUID, expected)
	}
	if err != nil {
		return nil, err
	}
	if deferred, ok := result.(worker.Defer); ok {
		return deferred, nil
	}

	return w.syncLeases(ctx, hw, windows, result)
}

// resourceUpdate converges an existing Blazar resource to the expected state.
func (w *blazarWorker) resourceUpdate(ctx context.Context, resourceID string, expected map[string]any) (worker.Result, error) {
	current, err := w.fetchResource(ctx, resourceID)
	if errors.Is(err, oscli.ErrNotFound) {
		// The cached resource id is stale; drop it and retry later.
		return worker.Defer{
			Details: map[string]any{"blazar_resource_id": nil},
			Reason:  "cached resource id no longer exists",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	// Do not make any changes if not needed.
	dirty := false
	for key, want := range expected {
		if !reflect.DeepEqual(current[key], want) {
			dirty = true
			break
		}
	}
	if !dirty {
		return worker.Success{}, nil
	}

	updated, err := w.putResource(ctx, resourceID, expected)
	if errors.Is(err, oscli.ErrNotFound) {
		return worker.Defer{
			Details: map[string]any{"blazar_resource_id": nil},
			Reason:  "cached resource id no longer exists",
		}, nil
	}
	if errors.Is(err, oscli.ErrConflict) {
		// Resource cannot be updated while referenced by a running lease.
		return worker.Defer{Reason: "resource is referenced by a current lease"}, nil
	}
	if err != nil {
		return nil, err
	}

	return worker.Success{Details: map[string]any{
		"blazar_resource_id":  updated["id"],
		"resource_updated_at": updated["updated_at"],
	}}, nil
}

// resourceCreate registers the hardware as a new Blazar resource.
func (w *blazarWorker) resourceCreate(ctx context.Context, hardwareUUID string, expected map[string]any) (worker.Result, error) {
	body := make(map[string]any, len(expected)+1)
	for k, v := range expected {
		body[k] = v
	}
	body["name"] = hardwareUUID

	created, err := w.postResource(ctx, body)
	if errors.Is(err, oscli.ErrNotFound) {
		// Blazar reports 404 when the backing resource is unknown to it,
		// e.g. the node has not landed in Ironic yet.
		return worker.Defer{
			Details: map[string]any{"message": "resource does not exist upstream yet"},
			Reason:  "resource does not exist upstream yet",
		}, nil
	}
	if errors.Is(err, oscli.ErrConflict) {
		existing, findErr := w.findResource(ctx, hardwareUUID)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, fmt.Errorf("blazar returned a conflict on create but no resource matches %s", hardwareUUID)
		}
		// Cache the discovered id and retry after defer.
		return worker.Defer{
			Details: map[string]any{"blazar_resource_id": existing["id"]},
			Reason:  "resource already exists, adopted its id",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return worker.Success{Details: map[string]any{
		"blazar_resource_id":  created["id"],
		"resource_created_at": created["created_at"],
	}}, nil
}

// syncLeases mirrors the hardware's availability windows to Blazar leases:
// create missing leases, update drifted ones, delete leases whose window is
// gone. A lease that cannot be reconciled defers the whole task while keeping
// the resource payload.
func (w *blazarWorker) syncLeases(ctx context.Context, hw *models.Hardware, windows []*models.AvailabilityWindow, resourceResult worker.Result) (worker.Result, error) {
	remaining, err := w.leaseList(ctx, hw)
	if err != nil {
		return nil, err
	}

	anyDeferred := false
	for _, aw := range windows {
		lease := w.toLease(aw)
		name, _ := lease["name"].(string)

		matching := popLeaseByName(&remaining, name)
		if matching == nil {
			deferred, err := w.leaseCreate(ctx, lease)
			if err != nil {
				return nil, err
			}
			anyDeferred = anyDeferred || deferred
			continue
		}

		// Only the start and end date can be updated on an existing lease.
		forUpdate := map[string]any{
			"name":       lease["name"],
			"start_date": lease["start_date"],
			"end_date":   lease["end_date"],
		}
		if leaseUpToDate(forUpdate, matching) {
			continue
		}

		leaseID, _ := matching["id"].(string)
		matchingStart, parseErr := time.Parse(blazarDateFormat, fmt.Sprint(matching["start_date"]))
		awStart := aw.Start.UTC().Truncate(time.Minute)

		if parseErr == nil && matchingStart.Before(time.Now().UTC()) && awStart.After(matchingStart) {
			// Blazar rejects moving the start of a lease that already began,
			// so fake the update with a delete and create.
			if err := w.leaseDelete(ctx, leaseID); err != nil {
				return nil, err
			}
			deferred, err := w.leaseCreate(ctx, lease)
			if err != nil {
				return nil, err
			}
			anyDeferred = anyDeferred || deferred
		} else {
			deferred, err := w.leaseUpdate(ctx, leaseID, forUpdate)
			if err != nil {
				return nil, err
			}
			anyDeferred = anyDeferred || deferred
		}
	}

	// Leases left over have no matching window anymore.
	for _, lease := range remaining {
		leaseID, _ := lease["id"].(string)
		if err := w.leaseDelete(ctx, leaseID); err != nil {
			return nil, err
		}
	}

	if anyDeferred {
		return worker.Defer{
			Details: resourceResult.Payload(),
			Reason:  "one or more availability window leases failed to update",
		}, nil
	}
	return resourceResult, nil
}

// teardown removes the hardware's leases and its Blazar resource after the
// hardware was soft-deleted.
func (w *blazarWorker) teardown(ctx context.Context, hw *models.Hardware, stateDetails map[string]any) (worker.Result, error) {
	leases, err := w.leaseList(ctx, hw)
	if err != nil {
		return nil, err
	}
	for _, lease := range leases {
		leaseID, _ := lease["id"].(string)
		if err := w.leaseDelete(ctx, leaseID); err != nil {
			return nil, err
		}
	}

	resourceID, _ := stateDetails["blazar_resource_id"].(string)
	if resourceID == "" {
		existing, err := w.findResource(ctx, hw.UUID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			resourceID = fmt.Sprint(existing["id"])
		}
	}

	if resourceID != "" {
		err := w.client.DoJSON(ctx, http.MethodDelete, w.resourcePath+"/"+resourceID, nil, nil)
		if err != nil && !errors.Is(err, oscli.ErrNotFound) {
			if errors.Is(err, oscli.ErrConflict) {
				return worker.Defer{Reason: "resource is referenced by a current lease"}, nil
			}
			return nil, err
		}
	}

	w.logger.Info("tore down blazar state",
		zap.String("hardware_uuid", hw.UUID),
		zap.String("worker_type", w.workerType),
	)
	return worker.Success{Details: map[string]any{"blazar_resource_id": nil}}, nil
}

// toLease builds the Blazar lease body mirroring one availability window.
func (w *blazarWorker) toLease(aw *models.AvailabilityWindow) map[string]any {
	return map[string]any{
		"name":       AWLeasePrefix + aw.UUID,
		"start_date": aw.Start.UTC().Format(blazarDateFormat),
		"end_date":   aw.End.UTC().Format(blazarDateFormat),
		"reservations": []any{
			w.reservationValues(aw.HardwareUUID),
		},
	}
}

// leaseList fetches the doni-managed leases referencing this hardware item.
func (w *blazarWorker) leaseList(ctx context.Context, hw *models.Hardware) ([]map[string]any, error) {
	var resp struct {
		Leases []map[string]any `json:"leases"`
	}
	if err := w.client.DoJSON(ctx, http.MethodGet, "/leases", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}

	var filtered []map[string]any
	for _, lease := range resp.Leases {
		name, _ := lease["name"].(string)
		// The reservation constraint embeds the hardware uuid in a nested
		// JSON string, so a substring check identifies the owner.
		if strings.HasPrefix(name, AWLeasePrefix) && strings.Contains(fmt.Sprint(lease["reservations"]), hw.UUID) {
			filtered = append(filtered, lease)
		}
	}
	return filtered, nil
}

// leaseCreate creates a lease. It returns true when the create should defer
// the task (upstream resource missing or lease conflict).
func (w *blazarWorker) leaseCreate(ctx context.Context, lease map[string]any) (bool, error) {
	err := w.client.DoJSON(ctx, http.MethodPost, "/leases", lease, nil)
	if errors.Is(err, oscli.ErrNotFound) || errors.Is(err, oscli.ErrConflict) {
		return true, nil
	}
	return false, err
}

// leaseUpdate updates a lease's dates, deferring on 404 or conflict.
func (w *blazarWorker) leaseUpdate(ctx context.Context, leaseID string, lease map[string]any) (bool, error) {
	err := w.client.DoJSON(ctx, http.MethodPut, "/leases/"+leaseID, lease, nil)
	if errors.Is(err, oscli.ErrNotFound) || errors.Is(err, oscli.ErrConflict) {
		return true, nil
	}
	return false, err
}

// leaseDelete deletes a lease, tolerating one that is already gone.
func (w *blazarWorker) leaseDelete(ctx context.Context, leaseID string) error {
	err := w.client.DoJSON(ctx, http.MethodDelete, "/leases/"+leaseID, nil, nil)
	if errors.Is(err, oscli.ErrNotFound) {
		return nil
	}
	return err
}

func (w *blazarWorker) fetchResource(ctx context.Context, resourceID string) (map[string]any, error) {
	var resp map[string]any
	if err := w.client.DoJSON(ctx, http.MethodGet, w.resourcePath+"/"+resourceID, nil, &resp); err != nil {
		return nil, err
	}
	return unwrapResource(resp, w.resourceKind)
}

func (w *blazarWorker) putResource(ctx context.Context, resourceID string, body map[string]any) (map[string]any, error) {
	var resp map[string]any
	if err := w.client.DoJSON(ctx, http.MethodPut, w.resourcePath+"/"+resourceID, body, &resp); err != nil {
		return nil, err
	}
	return unwrapResource(resp, w.resourceKind)
}

func (w *blazarWorker) postResource(ctx context.Context, body map[string]any) (map[string]any, error) {
	var resp map[string]any
	if err := w.client.DoJSON(ctx, http.MethodPost, w.resourcePath, body, &resp); err != nil {
		return nil, err
	}
	return unwrapResource(resp, w.resourceKind)
}

// findResource scans the resource list for one named after the hardware uuid.
// Returns nil when no resource matches.
func (w *blazarWorker) findResource(ctx context.Context, hardwareUUID string) (map[string]any, error) {
	var resp map[string]any
	if err := w.client.DoJSON(ctx, http.MethodGet, w.resourcePath, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	items, _ := resp[w.listKey].([]any)
	for _, item := range items {
		resource, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if resource["name"] == hardwareUUID || resource["hypervisor_hostname"] == hardwareUUID {
			return resource, nil
		}
	}
	return nil, nil
}

func unwrapResource(resp map[string]any, kind string) (map[string]any, error) {
	resource, ok := resp[kind].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("blazar response missing %q object", kind)
	}
	return resource, nil
}

// popLeaseByName removes and returns the lease with the given name, or nil.
func popLeaseByName(leases *[]map[string]any, name string) map[string]any {
	for i, lease := range *leases {
		if lease["name"] == name {
			*leases = append((*leases)[:i], (*leases)[i+1:]...)
			return lease
		}
	}
	return nil
}

// leaseUpToDate reports whether every desired lease field already matches the
// existing lease.
func leaseUpToDate(desired, existing map[string]any) bool {
	for key, want := range desired {
		if fmt.Sprint(existing[key]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
