package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker probes one dependency.
type HealthChecker func(ctx context.Context) error

// HealthHandler reports process liveness and dependency health.
type HealthHandler struct {
	checks map[string]HealthChecker
}

// NewHealthHandler creates the health handler. checks may be empty.
func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health runs the dependency probes.
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	details := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			details[name] = err.Error()
		} else {
			details[name] = "ok"
		}
	}

	c.JSON(code, gin.H{
		"status":  status,
		"details": details,
	})
}
