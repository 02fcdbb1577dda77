// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	appctx "stockpick/internal/core/context"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/reservation"
	"stockpick/internal/infrastructure/http/v1/handlers"
	"stockpick/internal/infrastructure/http/v1/middleware"
	"stockpick/internal/infrastructure/metrics"
	"stockpick/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Allocation is the allocation engine
	Allocation *allocation.Service

	// History serves the admin audit trail; nil hides the route
	History reservation.HistoryReader

	// Store is checked by the readiness check
	Store handlers.Pinger

	// StorageName and Version are reported by /health/info
	StorageName string
	Version     string

	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for operator tokens; admin routes are not mounted without it
	JWTValidator middleware.JWTValidator

	// Idempotency replays keyed POST requests; nil disables it
	Idempotency middleware.IdempotencyStore

	// Metrics enables /metrics and request instrumentation; nil disables it
	Metrics *metrics.Metrics
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(middleware.Metrics(cfg.Metrics, cfg.Metrics.HTTPRequestsInFlight))
	}
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Store, cfg.StorageName, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	if cfg.JWTValidator != nil {
		v1.Use(middleware.OptionalAuth(cfg.JWTValidator))
	}
	if cfg.Idempotency != nil {
		v1.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()
	registerPickingRoutes(v1, base, cfg)
	registerAdminRoutes(v1, base, cfg)

	return router
}

// registerPickingRoutes registers the routes used by the fulfillment
// workflow and picker terminals.
func registerPickingRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewAllocationHandler(base, cfg.Allocation)

	rg.POST("/allocations", h.Allocate)
	rg.POST("/picks", h.CompletePick)
	rg.POST("/reservations/:id/cancel", h.CancelReservation)
	rg.GET("/availability/:sku", h.Availability)

	orders := rg.Group("/orders/:orderId")
	{
		orders.GET("/reservations", h.ListOrderReservations)
		orders.POST("/release", h.ReleaseOrder)
	}
}

// registerAdminRoutes registers supervisor-only maintenance routes.
func registerAdminRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.JWTValidator == nil {
		return
	}

	h := handlers.NewAdminHandler(base, cfg.Allocation.Sweeper(), cfg.History)

	admin := rg.Group("/admin")
	admin.Use(middleware.Auth(cfg.JWTValidator))
	admin.Use(middleware.RequireRole(appctx.RoleSupervisor))
	{
		admin.POST("/reservations/cancel-all", h.CancelAll)
		admin.POST("/reservations/sweep", h.Sweep)
		if h.HasHistory() {
			admin.GET("/reservations/:id/history", h.History)
		}
	}
}
