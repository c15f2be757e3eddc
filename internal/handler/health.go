package handler

import (
	"net/http"
	"time"

	"orionserver/internal/logger"
)

// Overall health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheck reports one component. A failing Critical check makes the
// service unhealthy, any other failing check makes it degraded.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func() bool
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp float64         `json:"timestamp"`
	Services  map[string]bool `json:"services"`
	Version   string          `json:"version"`
	Details   map[string]any  `json:"details,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Evaluate runs every check and derives the overall status.
func Evaluate(checks []HealthCheck) (string, map[string]bool) {
	status := StatusHealthy
	services := make(map[string]bool, len(checks))
	for _, c := range checks {
		ok := c.Check()
		services[c.Name] = ok
		if ok {
			continue
		}
		if c.Critical {
			status = StatusUnhealthy
		} else if status == StatusHealthy {
			status = StatusDegraded
		}
	}
	return status, services
}

// HealthHandler reports per-component health. Responds 503 when unhealthy.
// details may be nil; it is called on every request.
func HealthHandler(checks []HealthCheck, version string, details func() map[string]any, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, services := Evaluate(checks)

		resp := HealthResponse{
			Status:    status,
			Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
			Services:  services,
			Version:   version,
		}
		if details != nil {
			resp.Details = details()
		}

		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
			resp.Error = "one or more core components are unhealthy"
			logger.Warning("Health check failed: %v", services)
		}
		writeJSON(w, code, resp, logger)
	}
}
