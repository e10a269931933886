// Package metrics exposes the talond Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Actions counts completed workflow runs by action kind and status.
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talon_actions_total",
		Help: "Completed fleet actions by kind and status.",
	}, []string{"action", "status"})

	// NotifyOutcomes counts notification delivery outcomes.
	NotifyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talon_notify_outcomes_total",
		Help: "Notification delivery outcomes.",
	}, []string{"outcome"})

	// PanelRequests counts control-plane API calls by credential scope and
	// response class.
	PanelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talon_panel_requests_total",
		Help: "Control-plane API requests by credential scope and status code.",
	}, []string{"scope", "code"})

	// Confirmations counts confirmation gate resolutions by terminal state.
	Confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talon_confirmations_total",
		Help: "Confirmation gate resolutions by terminal state.",
	}, []string{"state"})
)

// ObservePanelRequest records one control-plane call. A status of 0 means
// the request failed before any HTTP response (transport error).
func ObservePanelRequest(scope string, status int) {
	code := "transport_error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	PanelRequests.WithLabelValues(scope, code).Inc()
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
