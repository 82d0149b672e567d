// internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/velcourt/pageharvest/internal/proxy"
	"github.com/velcourt/pageharvest/pkg/types"
)

// Metrics exposes the harvest core's Prometheus collectors. Each Metrics
// instance owns its registry, so tests and embedded uses never collide
// on registration.
type Metrics struct {
	registry *prometheus.Registry

	pagesFetched      *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	defenseDetections *prometheus.CounterVec
	fetchRetries      *prometheus.CounterVec

	recordsExtracted   prometheus.Counter
	fieldErrors        *prometheus.CounterVec
	extractionCoverage prometheus.Histogram

	jobsTotal  *prometheus.CounterVec
	jobsActive prometheus.Gauge

	proxyActive      prometheus.Gauge
	proxyCoolingDown prometheus.Gauge
	proxyBlacklisted prometheus.Gauge
	proxySuccessRate prometheus.Gauge
}

// NewMetrics creates the collector set under the given namespace
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pageharvest"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		pagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages fetched, labelled by domain and outcome",
		}, []string{"domain", "outcome"}),

		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Page fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"}),

		defenseDetections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "defense_detections_total",
			Help:      "Automated-traffic defense detections by reason code",
		}, []string{"reason"}),

		fetchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Fetch retries by classification",
		}, []string{"classification"}),

		recordsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Records successfully extracted",
		}),

		fieldErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_errors_total",
			Help:      "Field-level extraction failures by field name",
		}, []string{"field"}),

		extractionCoverage: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_coverage",
			Help:      "Required-field coverage per extracted page",
			Buckets:   []float64{0, 0.25, 0.5, 0.75, 0.9, 1},
		}),

		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs finished, labelled by terminal status",
		}, []string{"status"}),

		jobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Jobs currently running",
		}),

		proxyActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_pool_active",
			Help:      "Proxy entries in the active state",
		}),

		proxyCoolingDown: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_pool_cooling_down",
			Help:      "Proxy entries cooling down",
		}),

		proxyBlacklisted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_pool_blacklisted",
			Help:      "Proxy entries blacklisted",
		}),

		proxySuccessRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_pool_success_rate",
			Help:      "Aggregate proxy success rate",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePage records one harvested page's fetch metadata
func (m *Metrics) ObservePage(domain, outcome string, latency time.Duration) {
	m.pagesFetched.WithLabelValues(domain, outcome).Inc()
	if latency > 0 {
		m.fetchDuration.WithLabelValues(domain).Observe(latency.Seconds())
	}
}

// ObserveDefense records a defense detection
func (m *Metrics) ObserveDefense(reason string) {
	m.defenseDetections.WithLabelValues(reason).Inc()
}

// ObserveRetry records a fetch retry
func (m *Metrics) ObserveRetry(classification string) {
	m.fetchRetries.WithLabelValues(classification).Inc()
}

// ObserveExtraction records one page's extraction outcome
func (m *Metrics) ObserveExtraction(coverage float64, fieldErrors []types.FieldError) {
	m.recordsExtracted.Inc()
	m.extractionCoverage.Observe(coverage)
	for _, fe := range fieldErrors {
		m.fieldErrors.WithLabelValues(fe.FieldName).Inc()
	}
}

// JobStarted increments the active-jobs gauge
func (m *Metrics) JobStarted() {
	m.jobsActive.Inc()
}

// JobFinished records a terminal status and decrements the gauge
func (m *Metrics) JobFinished(status types.JobStatus) {
	m.jobsActive.Dec()
	m.jobsTotal.WithLabelValues(string(status)).Inc()
}

// UpdatePoolStats refreshes the proxy pool gauges
func (m *Metrics) UpdatePoolStats(stats proxy.Stats) {
	m.proxyActive.Set(float64(stats.Active))
	m.proxyCoolingDown.Set(float64(stats.CoolingDown))
	m.proxyBlacklisted.Set(float64(stats.Blacklisted))
	m.proxySuccessRate.Set(stats.SuccessRate)
}
