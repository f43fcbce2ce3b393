package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// Analyses counts analysis runs by tool and outcome
	Analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "permitiq_analysis_total", Help: "Analysis runs by tool and outcome."},
		[]string{"tool", "outcome"},
	)
	// AnalysisDuration records analysis durations in seconds
	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "permitiq_analysis_duration_seconds", Help: "Analysis duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"tool"},
	)

	// UpstreamRequests counts permit feed requests by result
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "permitiq_upstream_requests_total", Help: "Permit feed requests by result."},
		[]string{"result"},
	)
	// BreakerState exposes the feed circuit breaker state (0 closed, 1 open, 2 half-open)
	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "permitiq_breaker_state", Help: "Feed circuit breaker state (0 closed, 1 open, 2 half-open)."},
	)
	// BreakerTransitions counts breaker state changes by target state
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "permitiq_breaker_transitions_total", Help: "Breaker transitions by target state."},
		[]string{"to"},
	)
	// RefreshRecords counts rows written by the background refresher
	RefreshRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "permitiq_refresh_records_total", Help: "Rows upserted by the refresher, by kind."},
		[]string{"kind"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(Analyses)
		Registry.MustRegister(AnalysisDuration)
		Registry.MustRegister(UpstreamRequests)
		Registry.MustRegister(BreakerState)
		Registry.MustRegister(BreakerTransitions)
		Registry.MustRegister(RefreshRecords)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// SetBreakerState maps a breaker state name onto the gauge.
func SetBreakerState(state string) {
	switch state {
	case model.BreakerOpen:
		BreakerState.Set(1)
	case model.BreakerHalfOpen:
		BreakerState.Set(2)
	default:
		BreakerState.Set(0)
	}
}
