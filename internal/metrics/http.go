package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(httpRequests, httpPanics)
}

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxpilot_http_requests_total",
			Help: "HTTP requests by method and status code.",
		},
		[]string{"method", "code"},
	)

	httpPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inboxpilot_http_panics_total",
			Help: "Handler panics recovered by the HTTP middleware.",
		},
	)
)

func HTTPRequest(method string, status int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func HTTPPanic() {
	httpPanics.Inc()
}
