package api

import (
	"net/http"
	"time"

	"streamkit/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// ConnectionCounter reports live realtime connections
type ConnectionCounter interface {
	Total() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker *health.Checker
	conns   ConnectionCounter
	version string
	started time.Time
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status      string                       `json:"status"`
	Timestamp   time.Time                    `json:"timestamp"`
	Version     string                       `json:"version"`
	Uptime      string                       `json:"uptime"`
	Connections int                          `json:"connections"`
	Components  map[string]*health.Component `json:"components"`
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(checker *health.Checker, conns ConnectionCounter, version string) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		conns:   conns,
		version: version,
		started: time.Now(),
	}
}

// Health reports component status; 503 when a critical component is down
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:     "ok",
		Timestamp:  time.Now().UTC(),
		Version:    h.version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: h.checker.GetStatus(),
	}
	if h.conns != nil {
		response.Connections = h.conns.Total()
	}

	code := http.StatusOK
	if !h.checker.IsSystemHealthy() {
		response.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

// Live always answers while the process serves requests
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterHealthRoutes registers health check related routes
func (h *HealthHandler) RegisterHealthRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/health/live", h.Live)
}
