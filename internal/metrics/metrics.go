// Package metrics holds the Prometheus collectors of the service. A nil *Metrics is valid
// and records nothing, so libraries and tests can skip wiring it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nfe"

type Metrics struct {
	Registry     *prometheus.Registry
	Documents    *prometheus.CounterVec
	Pages        *prometheus.CounterVec
	ModelLatency *prometheus.HistogramVec
	CacheLookups *prometheus.CounterVec
	BlobWrites   *prometheus.CounterVec
	TableWrites  *prometheus.CounterVec
	HTTPRequests *prometheus.HistogramVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed, by format and outcome.",
		}, []string{"format", "outcome"}),
		Pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Pages extracted, by outcome.",
		}, []string{"outcome"}),
		ModelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_seconds",
			Help:      "Latency of extraction model calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_cache_lookups_total",
			Help:      "Extraction cache lookups, by result.",
		}, []string{"result"}),
		BlobWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_writes_total",
			Help:      "Blob tier attempts, by backend and outcome.",
		}, []string{"backend", "outcome"}),
		TableWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_writes_total",
			Help:      "Table appends, by table kind and outcome.",
		}, []string{"table", "outcome"}),
		HTTPRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request latency, by route, method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Documents, m.Pages, m.ModelLatency, m.CacheLookups, m.BlobWrites, m.TableWrites, m.HTTPRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) ObserveDocument(format string, ok bool) {
	if m == nil {
		return
	}
	m.Documents.WithLabelValues(format, outcome(ok)).Inc()
}

func (m *Metrics) ObservePage(ok bool) {
	if m == nil {
		return
	}
	m.Pages.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) ObserveModelCall(provider string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelLatency.WithLabelValues(provider, outcome(ok)).Observe(d.Seconds())
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBlobWrite(backend string, ok bool) {
	if m == nil {
		return
	}
	m.BlobWrites.WithLabelValues(backend, outcome(ok)).Inc()
}

func (m *Metrics) ObserveTableWrite(table string, ok bool) {
	if m == nil {
		return
	}
	m.TableWrites.WithLabelValues(table, outcome(ok)).Inc()
}

func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}
