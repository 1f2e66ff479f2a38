package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// HealthChecker is satisfied by the postgres and redis wrappers.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	checks  map[string]HealthChecker
	version string
	timeout time.Duration
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// NewHealthHandler reports on every named dependency. Nil checkers are
// omitted, so an optional dependency that is switched off does not count.
func NewHealthHandler(checks map[string]HealthChecker, version string) *HealthHandler {
	filtered := make(map[string]HealthChecker, len(checks))
	for name, c := range checks {
		if c != nil {
			filtered[name] = c
		}
	}
	return &HealthHandler{checks: filtered, version: version, timeout: 5 * time.Second}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	services := make(map[string]string, len(h.checks))
	overall := "healthy"
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			overall = "unhealthy"
			continue
		}
		services[name] = "healthy"
	}

	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	})
}
