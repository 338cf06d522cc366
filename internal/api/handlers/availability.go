package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chameleoncloud/doni/internal/api/middleware"
	"github.com/chameleoncloud/doni/internal/policy"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/models"
)

// AvailabilityHandler handles availability window endpoints. Windows hang off
// hardware, so every route authorizes against the owning item first.
type AvailabilityHandler struct {
	hardware *service.HardwareService
	windows  *service.AvailabilityWindowService
}

// NewAvailabilityHandler creates a new AvailabilityHandler.
func NewAvailabilityHandler(hardware *service.HardwareService, windows *service.AvailabilityWindowService) *AvailabilityHandler {
	return &AvailabilityHandler{hardware: hardware, windows: windows}
}

// windowRequest is the request body for creating or updating a window.
type windowRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// List handles GET /v1/hardware/:uuid/availability.
func (h *AvailabilityHandler) List(c *gin.Context) {
	hw, ok := h.authorizeHardware(c, policy.RuleHardwareGet)
	if !ok {
		return
	}

	windows, err := h.windows.ListWindows(c.Request.Context(), hw.UUID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"availability": windows})
}

// Create handles POST /v1/hardware/:uuid/availability.
func (h *AvailabilityHandler) Create(c *gin.Context) {
	hw, ok := h.authorizeHardware(c, policy.RuleHardwareUpdate)
	if !ok {
		return
	}

	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapErrorToResponse(c, models.ErrInvalidRequest)
		return
	}

	w, err := h.windows.CreateWindow(c.Request.Context(), hw.UUID, req.Start, req.End)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// Update handles PUT /v1/hardware/:uuid/availability/:window_uuid.
func (h *AvailabilityHandler) Update(c *gin.Context) {
	hw, ok := h.authorizeHardware(c, policy.RuleHardwareUpdate)
	if !ok {
		return
	}

	w, err := h.windows.GetWindow(c.Request.Context(), c.Param("window_uuid"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	if w.HardwareUUID != hw.UUID {
		mapErrorToResponse(c, models.ErrWindowNotFound)
		return
	}

	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapErrorToResponse(c, models.ErrInvalidRequest)
		return
	}

	updated, err := h.windows.UpdateWindow(c.Request.Context(), w.UUID, req.Start, req.End)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /v1/hardware/:uuid/availability/:window_uuid.
func (h *AvailabilityHandler) Delete(c *gin.Context) {
	hw, ok := h.authorizeHardware(c, policy.RuleHardwareUpdate)
	if !ok {
		return
	}

	w, err := h.windows.GetWindow(c.Request.Context(), c.Param("window_uuid"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	if w.HardwareUUID != hw.UUID {
		mapErrorToResponse(c, models.ErrWindowNotFound)
		return
	}

	if err := h.windows.DeleteWindow(c.Request.Context(), w.UUID); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AvailabilityHandler) authorizeHardware(c *gin.Context, rule string) (*models.Hardware, bool) {
	token := middleware.GetAPIToken(c)

	hw, err := h.hardware.GetHardware(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		mapErrorToResponse(c, err)
		return nil, false
	}
	if err := policy.Authorize(rule, token, hw.ProjectID); err != nil {
		mapErrorToResponse(c, err)
		return nil, false
	}
	return hw, true
}
