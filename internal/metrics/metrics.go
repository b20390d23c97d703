package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	actionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "server",
			Name:      "action_requests_total",
			Help:      "Process control requests handled by the controller.",
		}, []string{"action", "result"},
	)
	versionSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "server",
			Name:      "version_switches_total",
			Help:      "Version switch attempts by outcome.",
		}, []string{"result"},
	)
	socketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cockpit",
			Subsystem: "server",
			Name:      "socket_clients",
			Help:      "Currently connected status socket clients.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Observed transitions between process states.",
		}, []string{"from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cockpit",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of the supervised process (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)

	clientReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "panel",
			Name:      "reconnects_total",
			Help:      "Push transport reconnect attempts.",
		},
	)
	pollFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "panel",
			Name:      "poll_failures_total",
			Help:      "Failed status polls.",
		},
	)
	observations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "panel",
			Name:      "status_observations_total",
			Help:      "Status observations delivered to the panel.",
		}, []string{"state"},
	)
	pendingClears = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cockpit",
			Subsystem: "panel",
			Name:      "pending_clears_total",
			Help:      "Pending action flags cleared, by action and reason.",
		}, []string{"action", "reason"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		actionRequests, versionSwitches, socketClients, stateTransitions, currentStates,
		clientReconnects, pollFailures, observations, pendingClears,
		processCPU, processMemory, processThreads,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with the default registry
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Helpers below no-op until Register has been called.

func IncActionRequest(action, result string) {
	if regOK.Load() {
		actionRequests.WithLabelValues(action, result).Inc()
	}
}

func IncVersionSwitch(result string) {
	if regOK.Load() {
		versionSwitches.WithLabelValues(result).Inc()
	}
}

func AddSocketClients(delta int) {
	if regOK.Load() {
		socketClients.Add(float64(delta))
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetCurrentState marks state as active and every other known state inactive.
func SetCurrentState(state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		currentStates.WithLabelValues(s).Set(v)
	}
}

func IncReconnect() {
	if regOK.Load() {
		clientReconnects.Inc()
	}
}

func IncPollFailure() {
	if regOK.Load() {
		pollFailures.Inc()
	}
}

func IncObservation(state string) {
	if regOK.Load() {
		observations.WithLabelValues(state).Inc()
	}
}

func IncPendingClear(action, reason string) {
	if regOK.Load() {
		pendingClears.WithLabelValues(action, reason).Inc()
	}
}
