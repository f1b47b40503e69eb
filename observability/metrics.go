package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockwire",
			Subsystem: "track",
			Name:      "requests_issued_total",
			Help:      "Requests issued with a fresh correlation id.",
		},
		[]string{"protocol"},
	)
	requestsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockwire",
			Subsystem: "track",
			Name:      "requests_resolved_total",
			Help:      "Pending requests resolved, by terminal outcome.",
		},
		[]string{"protocol", "outcome"},
	)
	unsolicitedResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockwire",
			Subsystem: "track",
			Name:      "unsolicited_responses_total",
			Help:      "Responses whose correlation id had no live pending entry.",
		},
		[]string{"protocol"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockwire",
			Subsystem: "envelope",
			Name:      "decode_errors_total",
			Help:      "Inbound frames rejected by the codec.",
		},
		[]string{"protocol", "kind"},
	)
	eventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockwire",
			Subsystem: "session",
			Name:      "events_dispatched_total",
			Help:      "Events routed to handlers, by direction.",
		},
		[]string{"protocol", "direction"},
	)
)

// Terminal outcome labels for RecordResolved.
const (
	OutcomeOK        = "ok"
	OutcomeErr       = "err"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			requestsIssued,
			requestsResolved,
			unsolicitedResponses,
			decodeErrors,
			eventsDispatched,
		)
	})
}

func RecordIssued(protocol string) {
	RegisterMetrics()
	requestsIssued.WithLabelValues(protocol).Inc()
}

func RecordResolved(protocol, outcome string) {
	RegisterMetrics()
	requestsResolved.WithLabelValues(protocol, outcome).Inc()
}

func RecordUnsolicited(protocol string) {
	RegisterMetrics()
	unsolicitedResponses.WithLabelValues(protocol).Inc()
}

func RecordDecodeError(protocol, kind string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(protocol, kind).Inc()
}

func RecordEventDispatched(protocol, direction string) {
	RegisterMetrics()
	eventsDispatched.WithLabelValues(protocol, direction).Inc()
}
