package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msnctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"engine", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "msnctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"engine", "method", "route", "status"},
	)
	inboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msnctl",
			Subsystem: "engine",
			Name:      "inbound_messages_total",
			Help:      "Inbound notification-server messages by verb and dispatch result.",
		},
		[]string{"phase", "verb", "result"},
	)
	actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msnctl",
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Client actions processed by result.",
		},
		[]string{"action", "result"},
	)
	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msnctl",
			Subsystem: "engine",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)
	passportRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msnctl",
			Subsystem: "passport",
			Name:      "requests_total",
			Help:      "Ticket service POST attempts by result.",
		},
		[]string{"result"},
	)
	passportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "msnctl",
			Subsystem: "passport",
			Name:      "request_duration_seconds",
			Help:      "Ticket service POST duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			inboundMessages,
			actions,
			logins,
			passportRequests,
			passportDuration,
		)
	})
}

func RecordHTTPRequest(engineID, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(engineID, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(engineID, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordInbound(phase, verb, result string) {
	RegisterMetrics()
	inboundMessages.WithLabelValues(phase, verb, result).Inc()
}

func RecordAction(action, result string) {
	RegisterMetrics()
	actions.WithLabelValues(action, result).Inc()
}

func RecordLogin(outcome string) {
	RegisterMetrics()
	logins.WithLabelValues(outcome).Inc()
}

func RecordPassportRequest(success bool, duration time.Duration) {
	RegisterMetrics()
	result := "error"
	if success {
		result = "ok"
	}
	passportRequests.WithLabelValues(result).Inc()
	passportDuration.WithLabelValues(result).Observe(duration.Seconds())
}
