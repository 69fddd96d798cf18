// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Loader operation results for metrics.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Transitions counts lifecycle state changes.
// Use RegisterMetrics to register this with a Prometheus registry.
var Transitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_plugin_transitions_total",
		Help: "Total number of plugin lifecycle transitions",
	},
	[]string{"from", "to"},
)

// AdmissionDecisions counts admission outcomes by operation.
var AdmissionDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_admission_decisions_total",
		Help: "Total number of load/unload admission decisions",
	},
	[]string{"operation", "decision"},
)

// UnloadRequests counts unload requests by the cause they were made with.
var UnloadRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeeper_unload_requests_total",
		Help: "Total number of unload requests by cause",
	},
	[]string{"cause"},
)

// LoaderDuration observes how long loader calls take.
var LoaderDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gatekeeper_loader_duration_seconds",
		Help:    "Module loader call duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation", "result"},
)

// PluginsByStatus tracks how many registered plugins are in each state.
var PluginsByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "gatekeeper_plugins",
		Help: "Number of registered plugins by runtime status",
	},
	[]string{"status"},
)

// RegisterMetrics registers plugin lifecycle metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Transitions)
	reg.MustRegister(AdmissionDecisions)
	reg.MustRegister(UnloadRequests)
	reg.MustRegister(LoaderDuration)
	reg.MustRegister(PluginsByStatus)
}

func recordTransition(from, to RuntimeStatus) {
	Transitions.WithLabelValues(from.String(), to.String()).Inc()
	PluginsByStatus.WithLabelValues(from.String()).Dec()
	PluginsByStatus.WithLabelValues(to.String()).Inc()
}

func recordDecision(operation string, d Decision) {
	AdmissionDecisions.WithLabelValues(operation, d.String()).Inc()
}

func recordLoaderCall(operation string, start time.Time, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	LoaderDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}
