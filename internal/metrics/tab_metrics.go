package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// State machine metrics
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supertab_machine_transitions_total",
			Help: "Total number of applied state machine transitions",
		},
		[]string{"from", "to", "event"},
	)

	IgnoredEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supertab_machine_ignored_events_total",
			Help: "Total number of events that matched no transition in the current state",
		},
		[]string{"state", "event"},
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supertab_machine_rejections_total",
			Help: "Total number of events rejected by local validation",
		},
		[]string{"reason"}, // no_default_offering, no_selection, offering_mismatch, ...
	)

	StaleCompletionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supertab_machine_stale_completions_total",
			Help: "Total number of collaborator completions dropped because their episode ended",
		},
	)

	EffectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supertab_machine_effect_duration_seconds",
			Help:    "Time from requesting an effect to its completion event",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"effect", "outcome"},
	)

	// Collaborator metrics
	CollaboratorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supertab_collaborator_call_duration_seconds",
			Help:    "Duration of calls to the Tab service and payment provider",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op", "outcome"},
	)

	AccessChecksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supertab_access_checks_in_flight",
			Help: "Number of access reconciliation fan-outs currently running",
		},
	)

	PurchasesAddedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supertab_purchases_added_total",
			Help: "Total number of offerings added to a tab",
		},
	)
)

// Call outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// RecordTransition records an applied transition
func RecordTransition(from, to, event string) {
	TransitionsTotal.WithLabelValues(from, to, event).Inc()
}

// RecordIgnoredEvent records an event that matched no transition
func RecordIgnoredEvent(state, event string) {
	IgnoredEventsTotal.WithLabelValues(state, event).Inc()
}

// RecordRejection records a locally rejected event
func RecordRejection(reason string) {
	RejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordStaleCompletion records a completion dropped after its episode ended
func RecordStaleCompletion() {
	StaleCompletionsTotal.Inc()
}

// RecordCollaboratorCall records the duration of one collaborator call
func RecordCollaboratorCall(op, outcome string, started time.Time) {
	CollaboratorCallDuration.WithLabelValues(op, outcome).Observe(time.Since(started).Seconds())
}

// RecordEffect records how long an effect took to produce its completion
func RecordEffect(effect, outcome string, started time.Time) {
	EffectDuration.WithLabelValues(effect, outcome).Observe(time.Since(started).Seconds())
}

// AccessCheckStarted marks the start of an access fan-out
func AccessCheckStarted() {
	AccessChecksInFlight.Inc()
}

// AccessCheckFinished marks the end of an access fan-out
func AccessCheckFinished() {
	AccessChecksInFlight.Dec()
}

// RecordPurchaseAdded records an offering added to a tab
func RecordPurchaseAdded() {
	PurchasesAddedTotal.Inc()
}
