package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest outcomes.
const (
	OutcomeCreated      = "created"
	OutcomeDeduplicated = "deduplicated"
	OutcomeEmpty        = "empty"
	OutcomeTooLarge     = "too_large"
	OutcomeError        = "error"
)

// Resolve outcomes.
const (
	OutcomeServed    = "served"
	OutcomeNotFound  = "not_found"
	OutcomeForbidden = "forbidden"
)

// Metrics counts pipeline outcomes.
type Metrics interface {
	IncIngest(outcome string)
	AddIngestBytes(n int64)
	IncResolve(mode, outcome string)
}

// HTTPMetrics captures request metrics for the web front end.
type HTTPMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics and HTTPMetrics without emitting anything.
type Noop struct{}

func (Noop) IncIngest(string)                               {}
func (Noop) AddIngestBytes(int64)                           {}
func (Noop) IncResolve(string, string)                      {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	ingests     *prometheus.CounterVec
	ingestBytes prometheus.Counter
	resolves    *prometheus.CounterVec
	once        sync.Once
}

// NewProm registers the pipeline counters with the default registerer.
func NewProm(namespace string) *Prom {
	p := &Prom{
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Uploads by outcome",
		}, []string{"outcome"}),
		ingestBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_bytes_total",
			Help:      "Bytes of newly stored content",
		}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Retrievals by mode and outcome",
		}, []string{"mode", "outcome"}),
	}
	p.once.Do(func() {
		prometheus.MustRegister(p.ingests, p.ingestBytes, p.resolves)
	})
	return p
}

func (p *Prom) IncIngest(outcome string) {
	p.ingests.WithLabelValues(outcome).Inc()
}

func (p *Prom) AddIngestBytes(n int64) {
	p.ingestBytes.Add(float64(n))
}

func (p *Prom) IncResolve(mode, outcome string) {
	p.resolves.WithLabelValues(mode, outcome).Inc()
}

type httpProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewHTTPProm constructs HTTPMetrics with a request counter and latency
// histogram.
func NewHTTPProm(namespace string) HTTPMetrics {
	h := &httpProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	prometheus.MustRegister(h.requests, h.latency)
	return h
}

func (h *httpProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	h.requests.WithLabelValues(method, route, status).Inc()
	h.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
