// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version    string
	serviceURL string
	workflow   WorkflowController
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, serviceURL string, wf WorkflowController) HealthHandler {
	return &HealthHandlerImpl{
		version:    version,
		serviceURL: serviceURL,
		workflow:   wf,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"service": h.serviceURL,
	}
	if h.workflow != nil {
		body["workflow"] = h.workflow.Snapshot().State
	}
	return c.JSON(http.StatusOK, body)
}
