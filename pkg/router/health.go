package router

import (
	"os"

	"streamkit/backend/internal/api"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers health check and metrics endpoints
func (r *Router) setupHealthRoutes() {
	handler := api.NewHealthHandler(r.Container.Checker, r.Container.Hub, os.Getenv("APP_VERSION"))
	handler.RegisterHealthRoutes(r.Engine)

	// kept for load balancers configured against the old path
	r.Engine.GET("/api/health", handler.Health)

	if r.metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(r.metrics))
	}
}
