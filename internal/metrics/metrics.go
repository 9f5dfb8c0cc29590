package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the planner
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// UnitSolves counts unit outcomes by scenario and outcome (optimal,
	// timeout, node_limit, infeasible, data_invalid, ...)
	UnitSolves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "planner_unit_solves_total", Help: "Unit solves by scenario and outcome."},
		[]string{"scenario", "outcome"},
	)
	// SolveDuration records per-unit solve wall time in seconds
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "planner_unit_solve_seconds", Help: "Unit solve duration in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900}},
		[]string{"scenario"},
	)
	// SolveNodes counts branch-and-bound relaxations solved
	SolveNodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "planner_bnb_nodes_total", Help: "Branch-and-bound relaxations solved."},
		[]string{"scenario"},
	)
	// FinalGap tracks the relative optimality gap of returned solutions
	FinalGap = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "planner_final_gap", Help: "Relative gap of returned unit solutions.", Buckets: []float64{0, 1e-6, 1e-4, 1e-3, 1e-2, 0.05, 0.1, 0.5}},
		[]string{"scenario"},
	)
	// ProgressEvents counts published progress events by transport
	ProgressEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "planner_progress_events_total", Help: "Progress events published by broker kind and result."},
		[]string{"broker", "result"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(UnitSolves)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SolveNodes)
		Registry.MustRegister(FinalGap)
		Registry.MustRegister(ProgressEvents)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
