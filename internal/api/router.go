// Package api assembles the doni HTTP API from services, handlers, and
// middleware.
package api

import (
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/internal/api/handlers"
	"github.com/chameleoncloud/doni/internal/api/middleware"
	"github.com/chameleoncloud/doni/internal/driver"
	"github.com/chameleoncloud/doni/internal/metrics"
	"github.com/chameleoncloud/doni/internal/service"
)

// RouterConfig holds configuration for setting up the HTTP router.
type RouterConfig struct {
	// DB is the registry database connection.
	DB *sql.DB

	// Logger is the Zap logger for request logging.
	Logger *zap.Logger

	// AuthSecret is the HMAC secret for API token validation.
	AuthSecret string

	// Registry provides the loaded hardware type and worker drivers. The
	// API only needs hardware types (for enrollment validation), so a
	// registry without workers is fine here.
	Registry *driver.Registry

	// AllowOrigins is the list of allowed CORS origins. Empty disables
	// CORS handling entirely.
	AllowOrigins []string

	// RateLimitRPS and RateLimitBurst bound the per-IP request rate.
	RateLimitRPS   float64
	RateLimitBurst int
}

// SetupRouter creates and configures the Gin HTTP router with all routes and
// middleware.
func SetupRouter(config *RouterConfig) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())

	// Metrics first so it captures every request, then request logging.
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(config.Logger))

	if len(config.AllowOrigins) > 0 {
		router.Use(middleware.CORS(config.AllowOrigins))
	}

	rps, burst := config.RateLimitRPS, config.RateLimitBurst
	if rps <= 0 {
		rps = 100.0
	}
	if burst <= 0 {
		burst = 200
	}
	router.Use(middleware.RateLimitByIP(rps, burst))

	// Services
	hardwareService := service.NewHardwareService(config.DB, config.Logger, config.Registry)
	taskService := service.NewWorkerTaskService(config.DB, config.Logger)
	windowService := service.NewAvailabilityWindowService(config.DB, config.Logger)
	tokenService := service.NewTokenService(config.DB, config.Logger, config.AuthSecret)

	// Handlers
	hardwareHandler := handlers.NewHardwareHandler(hardwareService, taskService, windowService)
	availabilityHandler := handlers.NewAvailabilityHandler(hardwareService, windowService)
	healthHandler := handlers.NewHealthHandler(config.DB)

	// Version discovery (no authentication required)
	router.GET("/", handlers.Root)

	// Metrics endpoint (no authentication required)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		metrics.Registry,
		promhttp.HandlerOpts{},
	)))

	// Health check routes (no authentication required)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Liveness)
		health.GET("/ready", healthHandler.Readiness)
	}

	// Public catalog export (no authentication required; private properties
	// are stripped and sensitive values masked)
	router.GET("/v1/hardware/export", hardwareHandler.Export)

	// Authenticated API v1 routes
	v1 := router.Group("/v1")
	v1.Use(middleware.RequireAPIToken(tokenService))
	v1.Use(middleware.RateLimitByProject(50.0, 100))
	{
		hardware := v1.Group("/hardware")
		{
			hardware.GET("", hardwareHandler.List)
			hardware.POST("", hardwareHandler.Enroll)
			hardware.GET("/:uuid", hardwareHandler.Get)
			hardware.PATCH("/:uuid", hardwareHandler.Patch)
			hardware.DELETE("/:uuid", hardwareHandler.Delete)

			hardware.GET("/:uuid/availability", availabilityHandler.List)
			hardware.POST("/:uuid/availability", availabilityHandler.Create)
			hardware.PUT("/:uuid/availability/:window_uuid", availabilityHandler.Update)
			hardware.DELETE("/:uuid/availability/:window_uuid", availabilityHandler.Delete)
		}
	}

	return router
}
