package handlers

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chameleoncloud/doni/internal/db"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db *sql.DB
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(database *sql.DB) *HealthHandler {
	return &HealthHandler{db: database}
}

// Liveness handles GET /health/live. It succeeds as long as the process
// serves requests.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness handles GET /health/ready. Ready means the database answers and
// the schema is fully migrated.
func (h *HealthHandler) Readiness(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"reason": "database unreachable",
		})
		return
	}

	version, err := db.SchemaVersion(h.db)
	if err != nil || version < db.LatestVersion() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"reason": "database schema not up to date",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Root handles GET /, the API version discovery document.
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":            "doni",
		"description":     "Chameleon hardware registration and enrollment service",
		"default_version": gin.H{"id": "v1", "status": "CURRENT"},
		"versions": []gin.H{
			{"id": "v1", "status": "CURRENT", "min_version": "1.0", "max_version": "1.0"},
		},
	})
}
