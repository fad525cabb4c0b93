package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthCheck 单个依赖的健康检查
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler /healthz
type HealthHandler struct {
	checks []HealthCheck
	logger *zap.Logger
}

func NewHealthHandler(logger *zap.Logger, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			components[c.Name] = err.Error()
			h.logger.Warn("Health check failed", zap.String("component", c.Name), zap.Error(err))
			continue
		}
		components[c.Name] = "ok"
	}

	if status != http.StatusOK {
		writeJSON(w, status, Result[map[string]string]{
			Code: ResultError, Type: "error", Message: "unhealthy", Result: components,
		})
		return
	}
	writeJSON(w, status, Ok(components))
}
