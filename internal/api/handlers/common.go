// Package handlers implements the doni REST API: hardware enrollment and
// lifecycle, availability windows, and health endpoints.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chameleoncloud/doni/models"
)

// ErrorResponse is the standard error body every endpoint returns.
type ErrorResponse struct {
	// Error is the machine-readable error code, e.g. "not_found".
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// RequestID is the unique request ID for tracing.
	RequestID string `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, statusCode int, errorCode, message string) {
	requestID := ""
	if val, exists := c.Get("request_id"); exists {
		if id, ok := val.(string); ok {
			requestID = id
		}
	}

	c.JSON(statusCode, ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestID: requestID,
	})
}

// mapErrorToResponse converts a models package error into an HTTP response.
// Messages stay generic so callers cannot probe for record existence.
func mapErrorToResponse(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrHardwareNotFound),
		errors.Is(err, models.ErrWindowNotFound),
		errors.Is(err, models.ErrWorkerTaskNotFound),
		errors.Is(err, models.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", "Resource not found")

	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrInvalidToken):
		respondError(c, http.StatusUnauthorized, "unauthorized", "Authentication failed")

	case errors.Is(err, models.ErrForbidden):
		respondError(c, http.StatusForbidden, "forbidden", "Access denied")

	case errors.Is(err, models.ErrInvalidParameter),
		errors.Is(err, models.ErrInvalidPatch),
		errors.Is(err, models.ErrDriverNotFound),
		errors.Is(err, models.ErrInvalidRequest):
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, models.ErrDuplicateName), errors.Is(err, models.ErrDuplicateUUID):
		respondError(c, http.StatusConflict, "conflict", "Resource already exists")

	case errors.Is(err, models.ErrServiceUnavailable):
		respondError(c, http.StatusServiceUnavailable, "service_unavailable", "Service temporarily unavailable")

	default:
		respondError(c, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}
