package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/celebrum-pricesync/internal/api/handlers"
	"github.com/irfndi/celebrum-pricesync/internal/middleware"
)

// RouteDeps carries the handlers and auth the router mounts.
type RouteDeps struct {
	ServiceName string
	Health      *handlers.HealthHandler
	Sync        *handlers.SyncHandler
	Admin       *middleware.AdminMiddleware
}

// SetupRoutes mounts the operator status surface on router.
func SetupRoutes(router *gin.Engine, deps RouteDeps) {
	router.Use(otelgin.Middleware(deps.ServiceName, otelgin.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != "/health"
	})))

	router.GET("/health", deps.Health.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		sync := v1.Group("/sync")
		{
			sync.GET("/runs", deps.Sync.ListRuns)
			sync.GET("/runs/stale", deps.Sync.ListStaleRuns)
			sync.GET("/runs/:id", deps.Sync.GetRun)
			sync.GET("/failures", deps.Sync.ListFailures)
			sync.GET("/breakers", deps.Sync.BreakerStates)
			sync.GET("/lock", deps.Sync.LockStatus)

			admin := sync.Group("")
			admin.Use(deps.Admin.RequireAdminAuth())
			{
				admin.POST("/failures/:symbol/reset", deps.Sync.ResetFailure)
			}
		}
	}
}
