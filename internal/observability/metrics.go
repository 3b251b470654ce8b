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
			Namespace: "actiongate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "actiongate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	goalOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actiongate",
			Subsystem: "goal",
			Name:      "outcomes_total",
			Help:      "Terminal goal outcomes by status.",
		},
		[]string{"status"},
	)
	goalDispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actiongate",
			Subsystem: "goal",
			Name:      "dispatch_failures_total",
			Help:      "Goal dispatch attempts that never started a session.",
		},
		[]string{"reason"},
	)
	goalFeedback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "actiongate",
			Subsystem: "goal",
			Name:      "feedback_total",
			Help:      "Feedback messages observed across all goals.",
		},
	)
	goalCancels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actiongate",
			Subsystem: "goal",
			Name:      "cancels_total",
			Help:      "Protocol cancel requests by origin and result.",
		},
		[]string{"origin", "result"},
	)
	watchdogFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "actiongate",
			Subsystem: "watchdog",
			Name:      "fires_total",
			Help:      "Watchdog firings on stale feedback.",
		},
	)
	goalsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "actiongate",
			Subsystem: "goal",
			Name:      "active",
			Help:      "Accepted goals not yet terminal.",
		},
	)
	topicPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "actiongate",
			Subsystem: "topic",
			Name:      "publishes_total",
			Help:      "Topic publish attempts.",
		},
		[]string{"topic", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			goalOutcomes,
			goalDispatchFailures,
			goalFeedback,
			goalCancels,
			watchdogFires,
			goalsActive,
			topicPublishes,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPublish(topic string, success bool) {
	RegisterMetrics()
	topicPublishes.WithLabelValues(topic, strconv.FormatBool(success)).Inc()
}
