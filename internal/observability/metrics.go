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
			Namespace: "botctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botctl",
			Subsystem: "chat",
			Name:      "commands_total",
			Help:      "Chat commands handled by name and outcome.",
		},
		[]string{"command", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botctl",
			Subsystem: "chat",
			Name:      "command_duration_seconds",
			Help:      "Chat command handling duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 120},
		},
		[]string{"command"},
	)
	botStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botctl",
			Subsystem: "bots",
			Name:      "starts_total",
			Help:      "Child bot start attempts by result.",
		},
		[]string{"result"},
	)
	botStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "botctl",
			Subsystem: "bots",
			Name:      "stops_total",
			Help:      "Child bots stopped on request.",
		},
	)
	botExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botctl",
			Subsystem: "bots",
			Name:      "exits_total",
			Help:      "Child bot process exits by outcome.",
		},
		[]string{"outcome"},
	)
	botsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botctl",
			Subsystem: "bots",
			Name:      "running",
			Help:      "Child bots currently tracked as running.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			commandsTotal,
			commandDuration,
			botStarts,
			botStops,
			botExits,
			botsRunning,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCommand(command, outcome string, duration time.Duration) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func RecordBotStart(ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	botStarts.WithLabelValues(result).Inc()
}

func RecordBotStop() {
	RegisterMetrics()
	botStops.Inc()
}

// RecordBotExit classifies an exit: clean (0), signaled (-1), or failed.
func RecordBotExit(exitCode int) {
	RegisterMetrics()
	outcome := "failed"
	switch {
	case exitCode == 0:
		outcome = "clean"
	case exitCode < 0:
		outcome = "signaled"
	}
	botExits.WithLabelValues(outcome).Inc()
}

func SetBotsRunning(n int) {
	RegisterMetrics()
	botsRunning.Set(float64(n))
}
