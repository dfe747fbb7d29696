package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	transportTcp = "tcp"
	transportWs  = "ws"
)

var activeSessions = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "gptmessenger",
		Name:      "active_sessions",
		Help:      "Number of open client sessions.",
	},
	[]string{"transport"},
)

var closedSessions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gptmessenger",
		Name:      "closed_sessions_total",
		Help:      "Number of closed client sessions by cause.",
	},
	[]string{"transport", "cause"},
)

func init() {
	prometheus.MustRegister(activeSessions, closedSessions)
}

func (e SessionError) String() string {
	switch e {
	case ReadError:
		return "read_error"
	case WriteError:
		return "write_error"
	case PingError:
		return "ping_error"
	case BadRequest:
		return "bad_request"
	case ServerStop:
		return "server_stop"
	case ClientQuit:
		return "quit"
	case LineTooLong:
		return "line_too_long"
	}
	return "unknown"
}

func sessionOpened(transport string) {
	activeSessions.WithLabelValues(transport).Inc()
}

func sessionClosed(transport string, cause SessionError) {
	activeSessions.WithLabelValues(transport).Dec()
	closedSessions.WithLabelValues(transport, cause.String()).Inc()
}
