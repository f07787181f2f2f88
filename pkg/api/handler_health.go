package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/quorum/pkg/database"
	"github.com/codeready-toolchain/quorum/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// HealthCheck is the per-component entry in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status            string                 `json:"status"`
	Version           string                 `json:"version"`
	ActiveConnections int                    `json:"active_connections"`
	Checks            map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// A missing or unreachable database degrades the status instead of failing
// it: chat keeps working without persistence.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.dbClient == nil {
		status = healthStatusDegraded
		checks["database"] = HealthCheck{Status: healthStatusDegraded, Message: "not configured"}
	} else if _, err := database.Health(reqCtx, s.dbClient.Pool()); err != nil {
		status = healthStatusDegraded
		checks["database"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	active := 0
	if s.connManager != nil {
		active = s.connManager.ActiveConnections()
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status:            status,
		Version:           version.GitCommit,
		ActiveConnections: active,
		Checks:            checks,
	})
}
