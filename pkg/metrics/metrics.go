// Package metrics exposes sync pipeline counters for Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medsearch"

// Outcome label values.
const (
	OutcomeOK         = "ok"
	OutcomeFetchError = "fetch_error"
	OutcomeParseError = "parse_error"
	OutcomeError      = "error"
	OutcomeCacheHit   = "cache_hit"

	OutcomeDownloadFailed = "download_failed"
	OutcomePersistFailed  = "persist_failed"
)

// Issue kinds.
const (
	IssueParsing = "parsing"
	IssueData    = "data"
)

// Upstream endpoints.
const (
	EndpointList   = "list"
	EndpointDetail = "detail"
)

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	splsSaved        prometheus.Counter
	listPages        *prometheus.CounterVec
	detailsSynced    *prometheus.CounterVec
	issuesRecorded   *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
}

// New creates Metrics registered on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		splsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spls_saved_total",
			Help:      "SPL list entries upserted.",
		}),
		listPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_pages_total",
			Help:      "SPL list pages processed, by outcome.",
		}, []string{"outcome"}),
		detailsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "details_synced_total",
			Help:      "SPL detail sync units, by outcome.",
		}, []string{"outcome"}),
		issuesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_recorded_total",
			Help:      "Parsing and data issues written, by kind.",
		}, []string{"kind"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "DailyMed requests, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "DailyMed request latency, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"endpoint"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.splsSaved,
		m.listPages,
		m.detailsSynced,
		m.issuesRecorded,
		m.upstreamRequests,
		m.upstreamLatency,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SPLsSaved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.splsSaved.Add(float64(n))
}

func (m *Metrics) ListPage(outcome string) {
	if m == nil {
		return
	}
	m.listPages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DetailSynced(outcome string) {
	if m == nil {
		return
	}
	m.detailsSynced.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IssueRecorded(kind string) {
	if m == nil {
		return
	}
	m.issuesRecorded.WithLabelValues(kind).Inc()
}

func (m *Metrics) UpstreamRequest(endpoint, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	if outcome != OutcomeCacheHit {
		m.upstreamLatency.WithLabelValues(endpoint).Observe(took.Seconds())
	}
}
