package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chameleoncloud/doni/internal/api/middleware"
	"github.com/chameleoncloud/doni/internal/policy"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/models"
)

// maxPatchSize bounds JSON patch request bodies.
const maxPatchSize = 1 << 20

// HardwareHandler handles hardware registry endpoints.
type HardwareHandler struct {
	hardware *service.HardwareService
	tasks    *service.WorkerTaskService
	windows  *service.AvailabilityWindowService
}

// NewHardwareHandler creates a new HardwareHandler.
func NewHardwareHandler(hardware *service.HardwareService, tasks *service.WorkerTaskService, windows *service.AvailabilityWindowService) *HardwareHandler {
	return &HardwareHandler{hardware: hardware, tasks: tasks, windows: windows}
}

// List handles GET /v1/hardware. Members see their own project's hardware;
// admins see everything.
func (h *HardwareHandler) List(c *gin.Context) {
	token := middleware.GetAPIToken(c)
	if token == nil {
		mapErrorToResponse(c, models.ErrUnauthorized)
		return
	}

	projectID := ""
	if !token.IsAdmin() {
		projectID = token.ProjectID
	}

	items, err := h.hardware.ListHardware(c.Request.Context(), projectID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	serialized := make([]map[string]any, 0, len(items))
	for _, hw := range items {
		serialized = append(serialized, h.hardware.Serialize(hw, token))
	}
	c.JSON(http.StatusOK, gin.H{"hardware": serialized})
}

// Export handles GET /v1/hardware/export, the unauthenticated public catalog
// view. Private properties are stripped and sensitive values masked.
func (h *HardwareHandler) Export(c *gin.Context) {
	items, err := h.hardware.ListHardware(c.Request.Context(), "")
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	serialized := make([]map[string]any, 0, len(items))
	for _, hw := range items {
		serialized = append(serialized, h.hardware.Serialize(hw, nil))
	}
	c.JSON(http.StatusOK, gin.H{"hardware": serialized})
}

// Get handles GET /v1/hardware/:uuid. The response includes the item's worker
// tasks so callers can follow synchronization progress.
func (h *HardwareHandler) Get(c *gin.Context) {
	token := middleware.GetAPIToken(c)

	hw, err := h.hardware.GetHardware(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	if err := policy.Authorize(policy.RuleHardwareGet, token, hw.ProjectID); err != nil {
		mapErrorToResponse(c, err)
		return
	}

	tasks, err := h.tasks.TasksForHardware(c.Request.Context(), hw.UUID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	doc := h.hardware.Serialize(hw, token)
	doc["workers"] = tasks
	c.JSON(http.StatusOK, doc)
}

// Enroll handles POST /v1/hardware (admin only by policy).
func (h *HardwareHandler) Enroll(c *gin.Context) {
	token := middleware.GetAPIToken(c)
	if err := policy.Authorize(policy.RuleHardwareCreate, token, ""); err != nil {
		mapErrorToResponse(c, err)
		return
	}

	var req models.HardwareEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapErrorToResponse(c, models.ErrInvalidRequest)
		return
	}

	hw, err := h.hardware.EnrollHardware(c.Request.Context(), &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.hardware.Serialize(hw, token))
}

// patchOperation is one RFC 6902 operation, decoded far enough to route it.
type patchOperation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
	From  string          `json:"from,omitempty"`
}

// Patch handles PATCH /v1/hardware/:uuid with an RFC 6902 JSON patch body.
// Operations under /availability edit the item's availability windows; all
// other operations patch the hardware document itself.
func (h *HardwareHandler) Patch(c *gin.Context) {
	token := middleware.GetAPIToken(c)

	hw, err := h.hardware.GetHardware(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	if err := policy.Authorize(policy.RuleHardwareUpdate, token, hw.ProjectID); err != nil {
		mapErrorToResponse(c, err)
		return
	}

	patchJSON, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPatchSize))
	if err != nil {
		mapErrorToResponse(c, models.ErrInvalidRequest)
		return
	}

	var ops []patchOperation
	if err := json.Unmarshal(patchJSON, &ops); err != nil {
		mapErrorToResponse(c, fmt.Errorf("%w: body is not a JSON patch", models.ErrInvalidPatch))
		return
	}

	var docOps, windowOps []patchOperation
	for _, op := range ops {
		if op.Path == "/availability" || strings.HasPrefix(op.Path, "/availability/") {
			windowOps = append(windowOps, op)
		} else {
			docOps = append(docOps, op)
		}
	}

	updated := hw
	if len(docOps) > 0 {
		raw, err := json.Marshal(docOps)
		if err != nil {
			mapErrorToResponse(c, models.ErrInvalidPatch)
			return
		}
		updated, err = h.hardware.PatchHardware(c.Request.Context(), hw.UUID, raw)
		if err != nil {
			mapErrorToResponse(c, err)
			return
		}
	}
	if len(windowOps) > 0 {
		if err := h.applyWindowOps(c, hw.UUID, windowOps); err != nil {
			mapErrorToResponse(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, h.hardware.Serialize(updated, token))
}

// applyWindowOps edits availability windows named by /availability patch
// paths. Indices refer to the window list as it was before the patch, in
// start-time order.
func (h *HardwareHandler) applyWindowOps(c *gin.Context, hardwareUUID string, ops []patchOperation) error {
	ctx := c.Request.Context()
	windows, err := h.windows.ListWindows(ctx, hardwareUUID)
	if err != nil {
		return err
	}

	for _, op := range ops {
		switch {
		case op.Op == "add" && (op.Path == "/availability/-" || op.Path == "/availability"):
			var req windowRequest
			if err := json.Unmarshal(op.Value, &req); err != nil {
				return fmt.Errorf("%w: availability value must be a window", models.ErrInvalidPatch)
			}
			if _, err := h.windows.CreateWindow(ctx, hardwareUUID, req.Start, req.End); err != nil {
				return err
			}

		case op.Op == "replace":
			w, err := windowAt(windows, op.Path)
			if err != nil {
				return err
			}
			var req windowRequest
			if err := json.Unmarshal(op.Value, &req); err != nil {
				return fmt.Errorf("%w: availability value must be a window", models.ErrInvalidPatch)
			}
			if _, err := h.windows.UpdateWindow(ctx, w.UUID, req.Start, req.End); err != nil {
				return err
			}

		case op.Op == "remove":
			w, err := windowAt(windows, op.Path)
			if err != nil {
				return err
			}
			if err := h.windows.DeleteWindow(ctx, w.UUID); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: unsupported availability operation %q on %q", models.ErrInvalidPatch, op.Op, op.Path)
		}
	}
	return nil
}

// windowAt resolves an /availability/N patch path to a window.
func windowAt(windows []*models.AvailabilityWindow, path string) (*models.AvailabilityWindow, error) {
	idx, err := strconv.Atoi(strings.TrimPrefix(path, "/availability/"))
	if err != nil || idx < 0 || idx >= len(windows) {
		return nil, fmt.Errorf("%w: no availability window at %q", models.ErrInvalidPatch, path)
	}
	return windows[idx], nil
}

// Delete handles DELETE /v1/hardware/:uuid. The delete is soft; drivers tear
// down external state afterwards.
func (h *HardwareHandler) Delete(c *gin.Context) {
	token := middleware.GetAPIToken(c)

	hw, err := h.hardware.GetHardware(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	if err := policy.Authorize(policy.RuleHardwareDelete, token, hw.ProjectID); err != nil {
		mapErrorToResponse(c, err)
		return
	}

	if err := h.hardware.DeleteHardware(c.Request.Context(), hw.UUID); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
