// Package handler provides HTTP handlers for the Skyboard API.
package handler

import (
	"net/http"
	"time"

	"github.com/skyboard/skyboard/internal/api/models"
	"github.com/skyboard/skyboard/internal/api/response"
	"github.com/skyboard/skyboard/internal/provider/resilience"
	"github.com/skyboard/skyboard/internal/ratelimit"
	"github.com/skyboard/skyboard/internal/worker"
)

// OpsConfig holds the dependencies of OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string
	Providers *resilience.Registry
	Refresh   *worker.Orchestrator
	Limiter   *ratelimit.Limiter
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	providers *resilience.Registry
	refresh   *worker.Orchestrator
	limiter   *ratelimit.Limiter
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		providers: cfg.Providers,
		refresh:   cfg.Refresh,
		limiter:   cfg.Limiter,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - ready once the first refresh
// cycle has completed.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	status := http.StatusOK
	if h.refresh != nil && h.refresh.GetMetrics().Cycles == 0 {
		health.Status = models.HealthStatusFail
		health.Details = map[string]interface{}{"reason": "waiting for first refresh cycle"}
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status - provider, refresh and admission
// status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Providers:  []models.ProviderStatus{},
		RateLimits: []models.RateLimitStatus{},
	}

	if h.providers != nil {
		for _, p := range h.providers.GetAllHealth() {
			ps := models.ProviderStatus{
				Provider:            p.Name,
				Status:              models.HealthStatusOK,
				CircuitState:        p.CircuitState.String(),
				Requests:            p.Counts.Requests,
				ConsecutiveFailures: p.Counts.ConsecutiveFailures,
				Throttled:           p.Throttled,
			}
			if p.LastSuccessAt != nil {
				ps.LastSuccessAt = models.TimestampPtr(*p.LastSuccessAt)
			}
			if p.LastFailureAt != nil {
				ps.LastFailureAt = models.TimestampPtr(*p.LastFailureAt)
			}
			if p.LastError != "" {
				msg := p.LastError
				ps.Message = &msg
			}
			switch {
			case p.IsUnhealthy():
				ps.Status = models.HealthStatusFail
				status.Status = models.HealthStatusDegraded
			case p.IsDegraded():
				ps.Status = models.HealthStatusDegraded
				status.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	if h.limiter != nil {
		for _, cat := range h.limiter.Categories() {
			limit, _ := h.limiter.Limit(cat)
			remaining, _ := h.limiter.Remaining(cat)
			status.RateLimits = append(status.RateLimits, models.RateLimitStatus{
				Category:  string(cat),
				Limit:     limit,
				Remaining: remaining,
				Window:    h.limiter.Window().String(),
			})
		}
	}

	if h.refresh != nil {
		status.Refresh = h.refresh.MetricsSnapshot()
	}

	response.JSON(w, r, http.StatusOK, status)
}
