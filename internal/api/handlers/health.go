// health.go — probes Kubernetes и /metrics.
// Готовность зависит только от PostgreSQL и Keycloak: внешние интеграции
// (Stripe, HelpScout, Umami, Uptime Kuma) деградируют на уровне виджетов.
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/clientportal/internal/config"
)

const serviceName = "client-portal"

// Статусы проверки зависимости.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — проверка одной зависимости: статус и пояснение.
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

type dependency struct {
	name    string
	checker ReadinessChecker
}

// HealthHandler — обработчик /health/* и /metrics.
type HealthHandler struct {
	deps    []dependency
	metrics http.Handler
}

// NewHealthHandler создаёт обработчик. nil-проверка считается проваленной.
func NewHealthHandler(pgChecker, kcChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		deps: []dependency{
			{name: "postgresql", checker: pgChecker},
			{name: "keycloak", checker: kcChecker},
		},
		metrics: promhttp.Handler(),
	}
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

func newHealthResponse(status string) healthResponse {
	return healthResponse{
		Status:    status,
		Service:   serviceName,
		Version:   config.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// HealthLive — процесс жив, зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse(statusOK))
}

// HealthReady — 200 при ok/degraded, 503 если хотя бы одна зависимость fail.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]checkResult, len(h.deps))
	statuses := make([]string, 0, len(h.deps))
	for _, d := range h.deps {
		res := checkResult{Status: statusFail, Message: "не инициализирован"}
		if d.checker != nil {
			res.Status, res.Message = d.checker.CheckReady()
		}
		checks[d.name] = res
		statuses = append(statuses, res.Status)
	}

	resp := newHealthResponse(overallStatus(statuses...))
	resp.Checks = checks

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics отдаёт метрики Prometheus.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.ServeHTTP(w, r)
}

// overallStatus — худший из статусов; неизвестный статус считается fail.
func overallStatus(statuses ...string) string {
	result := statusOK
	for _, s := range statuses {
		switch s {
		case statusOK:
		case statusDegraded:
			result = statusDegraded
		default:
			return statusFail
		}
	}
	return result
}
