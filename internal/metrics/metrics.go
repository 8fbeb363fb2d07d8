// Package metrics defines the Prometheus collectors shared across
// LockerGrid's gateway, kiosk, and panel processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lockergrid"

var (
	// RateLimitExceeded counts rejected requests per limiter key class.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_exceeded_total",
		Help:      "Total requests rejected by the rate limiter, by key class.",
	}, []string{"key_class"})

	// LockerTransitions counts every committed locker state transition.
	LockerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "locker_transitions_total",
		Help:      "Total committed locker state transitions.",
	}, []string{"from", "to"})

	// StoreConflicts counts conditional-update outcomes: first-try
	// successes, retries, and busy failures.
	StoreConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_version_conflicts_total",
		Help:      "Optimistic concurrency conflicts observed by the state store.",
	}, []string{"outcome"}) // none | retried | busy

	// HardwareCommands counts executed hardware pulses by outcome.
	HardwareCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hardware_commands_total",
		Help:      "Total hardware commands executed by the Modbus serializer.",
	}, []string{"kiosk_id", "outcome"}) // success | retry | failed

	// HardwareCommandDuration observes end-to-end pulse latency.
	HardwareCommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hardware_command_duration_seconds",
		Help:      "Duration of a single hardware pulse command, in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// QueueDepth gauges pending+in_progress commands per kiosk.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "command_queue_depth",
		Help:      "Number of pending or in_progress commands queued per kiosk.",
	}, []string{"kiosk_id"})

	// KiosksOnline gauges the current count of kiosks in the online state.
	KiosksOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "kiosks_online",
		Help:      "Number of kiosks currently considered online.",
	})

	// EventsAppended counts events written to the audit log by type.
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_appended_total",
		Help:      "Total events appended to the event log, by event type.",
	}, []string{"event_type"})

	// BusDropped counts event-bus publications dropped due to cancellation.
	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_bus_dropped_total",
		Help:      "Total event bus publications dropped, by topic and reason.",
	}, []string{"topic", "reason"})

	// HardwareBreakerState gauges the circuit breaker state (0=closed,1=half-open,2=open).
	HardwareBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hardware_breaker_state",
		Help:      "Current circuit breaker state of the hardware serializer per kiosk.",
	}, []string{"kiosk_id"})

	// HTTPRequestDuration observes request latency by route, method, status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latencies in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// HTTPRequestsInFlight gauges requests currently being served.
	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "Current number of HTTP requests being served.",
	})
)
