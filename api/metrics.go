package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gptmessenger",
		Name:      "commands_total",
		Help:      "Commands handled, by command and result.",
	}, []string{"command", "result"})

	commandSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gptmessenger",
		Name:      "command_duration_seconds",
		Help:      "Command latency including lock wait and persist.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"command"})

	persistSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gptmessenger",
		Name:      "persist_duration_seconds",
		Help:      "Time spent saving a state snapshot.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	persistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gptmessenger",
		Name:      "persist_failures_total",
		Help:      "Snapshots that could not be saved; the command was rejected.",
	})
)

func init() {
	prometheus.MustRegister(commandsTotal, commandSeconds, persistSeconds, persistFailures)
}

func observeCommand(name string, ok bool, d time.Duration) {
	if _, known := commands[name]; !known {
		name = "unknown"
	}
	result := "ok"
	if !ok {
		result = "err"
	}
	commandsTotal.WithLabelValues(name, result).Inc()
	commandSeconds.WithLabelValues(name).Observe(d.Seconds())
}

func observePersist(err error, d time.Duration) {
	persistSeconds.Observe(d.Seconds())
	if err != nil {
		persistFailures.Inc()
	}
}
