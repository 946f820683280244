package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(llmCalls, llmCallLatency, callLogDropped)
}

var (
	llmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxpilot_llm_calls_total",
			Help: "LLM calls by action and outcome (ok, cached or an error code).",
		},
		[]string{"action", "outcome"},
	)

	llmCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inboxpilot_llm_call_seconds",
			Help:    "Latency of uncached LLM provider calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30},
		},
		[]string{"provider", "model"},
	)

	callLogDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inboxpilot_call_log_dropped_total",
			Help: "Call log records dropped because the write buffer was full.",
		},
	)
)

// ObserveCall counts one LLM call. Outcome is "ok", "cached" or the failure code.
func ObserveCall(action, outcome string) {
	llmCalls.WithLabelValues(norm(action), norm(outcome)).Inc()
}

func ObserveLatency(provider, model string, d time.Duration) {
	llmCallLatency.WithLabelValues(norm(provider), norm(model)).Observe(d.Seconds())
}

func CallLogDropped() {
	callLogDropped.Inc()
}
