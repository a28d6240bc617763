// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry is the registry served by Handler. It is separate from the global
// prometheus registry so tests can gather it without interference.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		JobDuration, JobTotal, JobRetriesTotal,
		WorkersBusy, QueueDepth,
		ProviderRequestsTotal, ProviderRequestDuration, ProviderTokensTotal, ProviderFunctional,
		JobsPurgedTotal,
	)
}

// JobDuration is the wall time from claim to terminal or retry outcome, per provider.
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "docsift_job_duration_seconds",
		Help:    "Time spent executing an analysis job attempt.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"provider"},
)

// JobTotal counts finished attempts by outcome: completed | failed | cancelled | retrying.
var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docsift_job_total",
		Help: "Analysis job attempts by outcome.",
	},
	[]string{"outcome"},
)

// JobRetriesTotal counts FAILED -> PENDING transitions by trigger: automatic | manual.
var JobRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docsift_job_retries_total",
		Help: "Job retries by trigger.",
	},
	[]string{"trigger"},
)

var WorkersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "docsift_workers_busy",
	Help: "Workers currently executing a job.",
})

var QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "docsift_queue_depth",
	Help: "Jobs waiting in the dispatch queue.",
})

// ProviderRequestsTotal counts AI calls by provider and error kind ("ok" on success).
var ProviderRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docsift_provider_requests_total",
		Help: "AI provider calls by provider and result.",
	},
	[]string{"provider", "result"},
)

var ProviderRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "docsift_provider_request_duration_seconds",
		Help:    "AI provider call latency.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider"},
)

// ProviderTokensTotal counts tokens reported by providers; direction is input | output.
var ProviderTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docsift_provider_tokens_total",
		Help: "Tokens reported by AI providers.",
	},
	[]string{"provider", "direction"},
)

var ProviderFunctional = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "docsift_provider_functional",
		Help: "1 when the provider passed its last health check.",
	},
	[]string{"provider"},
)

var JobsPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "docsift_jobs_purged_total",
	Help: "Finished jobs deleted by the retention janitor.",
})

// Handler serves DefaultRegistry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
