// internal/monitoring/health.go
package monitoring

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/velcourt/pageharvest/internal/proxy"
)

// HealthReport is the /healthz payload
type HealthReport struct {
	Status    string      `json:"status"`
	Uptime    string      `json:"uptime"`
	Timestamp time.Time   `json:"timestamp"`
	ProxyPool proxy.Stats `json:"proxy_pool"`
}

// HealthHandler reports liveness plus proxy pool health. The service is
// degraded when no proxy is in the active state.
type HealthHandler struct {
	pool    *proxy.Pool
	started time.Time
}

// NewHealthHandler creates a health endpoint bound to the proxy pool
func NewHealthHandler(pool *proxy.Pool) *HealthHandler {
	return &HealthHandler{pool: pool, started: time.Now()}
}

// ServeHTTP implements http.Handler
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{
		Status:    "healthy",
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK

	if h.pool != nil {
		report.ProxyPool = h.pool.Stats()
		if report.ProxyPool.Total > 0 && report.ProxyPool.Active == 0 {
			report.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}
