package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tcpq",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of items per queue.",
		},
		[]string{"queue"},
	)
	queueOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpq",
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Queue push/pop operations, pops split by hit or empty.",
		},
		[]string{"queue", "op", "result"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tcpq",
			Subsystem: "hub",
			Name:      "sessions_active",
			Help:      "Connections currently served by a session worker.",
		},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpq",
			Subsystem: "hub",
			Name:      "sessions_total",
			Help:      "Sessions closed, by close reason.",
		},
		[]string{"reason"},
	)
	sessionsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tcpq",
			Subsystem: "hub",
			Name:      "sessions_reaped_total",
			Help:      "Finished session workers reclaimed by the reaper.",
		},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpq",
			Subsystem: "hub",
			Name:      "commands_total",
			Help:      "Frames dispatched by command.",
		},
		[]string{"command"},
	)
	clientSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpq",
			Subsystem: "client",
			Name:      "send_attempts_total",
			Help:      "Client push attempts by outcome.",
		},
		[]string{"outcome"},
	)
	clientDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tcpq",
			Subsystem: "client",
			Name:      "dropped_total",
			Help:      "Client pushes dropped after exhausting all attempts.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tcpq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			queueDepth,
			queueOps,
			sessionsActive,
			sessionsTotal,
			sessionsReaped,
			commandsTotal,
			clientSends,
			clientDropped,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordQueuePush(queue string, depth int) {
	RegisterMetrics()
	queueOps.WithLabelValues(queue, "push", "ok").Inc()
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func RecordQueuePop(queue string, hit bool, depth int) {
	RegisterMetrics()
	result := "empty"
	if hit {
		result = "hit"
	}
	queueOps.WithLabelValues(queue, "pop", result).Inc()
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func RecordQueueDepth(queue string, depth int) {
	RegisterMetrics()
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func RecordSessionOpen() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func RecordSessionClose(reason string) {
	RegisterMetrics()
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues(reason).Inc()
}

func RecordReaped(n int) {
	RegisterMetrics()
	if n > 0 {
		sessionsReaped.Add(float64(n))
	}
}

func RecordCommand(command string) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(command).Inc()
}

func RecordClientSend(success bool) {
	RegisterMetrics()
	outcome := "failed"
	if success {
		outcome = "sent"
	}
	clientSends.WithLabelValues(outcome).Inc()
}

func RecordClientDrop() {
	RegisterMetrics()
	clientDropped.Inc()
}

// RecordHTTPRequest counts one admin request. route must be a route template
// or UnmatchedRoute, never a raw URL path.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}
