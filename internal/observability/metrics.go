package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridedispatch"

var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dispatch_total", Help: "Dispatch requests by outcome"},
		[]string{"outcome"},
	)
	DispatchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_candidates",
		Help:      "Number of candidates written per dispatch",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 30, 50},
	})
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_latency_seconds",
		Help:      "Dispatch latency seconds",
		Buckets:   prometheus.DefBuckets,
	})
	AcceptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "accept_total", Help: "Accept attempts by outcome"},
		[]string{"outcome"},
	)
	OrderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_transitions_total", Help: "Order lifecycle transitions by event and outcome"},
		[]string{"event", "outcome"},
	)
	NotifyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notify_failures_total", Help: "Failed notifications by channel"},
		[]string{"channel"},
	)
	StoreDecodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "store_decode_failures_total", Help: "Stored records skipped because they could not be decoded"},
		[]string{"store"},
	)
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected order watchers",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Outcome labels shared by the counters above.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)
