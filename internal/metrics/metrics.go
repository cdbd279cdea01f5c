package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
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

	// CallbackDeliveries counts inbound callback outcomes by payload form and terminal state
	CallbackDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "callback_deliveries_total", Help: "Inbound callback deliveries by form and outcome."},
		[]string{"form", "outcome"},
	)
	// CallbackDuration tracks full pipeline latency per delivery
	CallbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "callback_pipeline_duration_seconds", Help: "Callback pipeline duration in seconds.", Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10}},
		[]string{"outcome"},
	)

	// SyncOperations counts outbound appointment sync attempts by action and outcome
	SyncOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "appointment_sync_total", Help: "Outbound appointment sync operations by action and outcome."},
		[]string{"action", "outcome"},
	)
	// SyncDuration tracks outbound platform call latency
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "appointment_sync_duration_seconds", Help: "Outbound sync call duration in seconds.", Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30}},
		[]string{"action"},
	)
)

// RegisterDefault registers collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(CallbackDeliveries)
		Registry.MustRegister(CallbackDuration)
		Registry.MustRegister(SyncOperations)
		Registry.MustRegister(SyncDuration)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
