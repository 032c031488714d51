// Package metrics exposes the bridge's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WebhookEvents counts provider call events by type.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_webhook_events_total",
		Help: "Provider webhook call events received, by event type.",
	}, []string{"event"})

	// ProviderRequests counts outbound provider API calls.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_provider_requests_total",
		Help: "Provider call API requests, by action and outcome.",
	}, []string{"action", "outcome"})

	// Calls counts call sessions started, by direction.
	Calls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_calls_total",
		Help: "Call sessions started, by direction.",
	}, []string{"direction"})

	// Bridges counts completed bridge attempts, by outcome.
	Bridges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_bridge_attempts_total",
		Help: "Bridge attempts, by outcome.",
	}, []string{"outcome"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
