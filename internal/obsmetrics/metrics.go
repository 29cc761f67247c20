// Package obsmetrics is Cortex's Prometheus instrumentation surface,
// exposed on an internal /internal/metrics path distinct from the
// OpenAI-compatible /v1/* REST surface (§10 supplemented feature).
// Grounded on the teacher's internal/observability/metrics.go: a struct
// of promauto-constructed CounterVec/HistogramVec/GaugeVec fields
// documented with their label sets, built against an explicit
// *prometheus.Registry rather than the global default so a host process
// embedding Cortex alongside other instrumented subsystems never
// collides with their metric names.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is Cortex's counter/histogram set for pathway execution, vendor
// dispatch, tool invocation, and the REST surface.
type Metrics struct {
	// PathwayRequestsTotal counts pathway executions.
	// Labels: pathway, status (success|error)
	PathwayRequestsTotal *prometheus.CounterVec

	// PathwayRequestDuration measures end-to-end pathway execution time.
	// Labels: pathway
	PathwayRequestDuration *prometheus.HistogramVec

	// VendorDispatchTotal counts completion requests sent to a vendor
	// plugin. Labels: vendor, status (success|error)
	VendorDispatchTotal *prometheus.CounterVec

	// ToolInvocationsTotal counts agent-loop tool-call dispatches.
	// Labels: tool, status (success|error)
	ToolInvocationsTotal *prometheus.CounterVec

	// CompressionsTotal counts history-compression attempts.
	// Labels: outcome (summarized|fallback)
	CompressionsTotal *prometheus.CounterVec

	// ChunkSplitCount measures how many chunks a pathway's input split
	// into when UseInputChunking is set. Labels: pathway
	ChunkSplitCount *prometheus.HistogramVec

	// HTTPRequestDuration measures REST surface latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a fresh Prometheus registry carrying the standard Go
// runtime and process collectors, ready to be passed to NewMetrics and to
// ratelimit.NewSelector.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return reg
}

// NewMetrics registers Cortex's metric set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PathwayRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_pathway_requests_total",
				Help: "Total number of pathway executions by pathway and status.",
			},
			[]string{"pathway", "status"},
		),
		PathwayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_pathway_request_duration_seconds",
				Help:    "Duration of pathway executions in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"pathway"},
		),
		VendorDispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_vendor_dispatch_total",
				Help: "Total number of completion requests dispatched to a vendor plugin.",
			},
			[]string{"vendor", "status"},
		),
		ToolInvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_tool_invocations_total",
				Help: "Total number of agent-loop tool invocations by tool and status.",
			},
			[]string{"tool", "status"},
		),
		CompressionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_history_compressions_total",
				Help: "Total number of history-compression attempts by outcome.",
			},
			[]string{"outcome"},
		),
		ChunkSplitCount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_pathway_chunk_count",
				Help:    "Number of input chunks a chunked pathway execution split into.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"pathway"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_http_request_duration_seconds",
				Help:    "Duration of REST surface requests in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// Handler returns the /internal/metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
