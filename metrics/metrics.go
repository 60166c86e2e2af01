// Package metrics instruments the scheduler with the same dual
// expvar/prometheus pair the teacher's instrumentation.go exposes:
// an expvar counter for cheap local inspection via /debug/vars, and a
// corresponding prometheus counter for scraping (namespaced "scheduler_",
// with a "_total" suffix). The destination gauge is prometheus-only.
package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eTriggerFires    = expvar.NewInt("trigger_fires")
	eQueueAdmissions = expvar.NewInt("queue_admissions")
	eQueueDrops      = expvar.NewInt("queue_drops")
	eHandlerRuns     = expvar.NewInt("handler_runs")
	eHandlerErrors   = expvar.NewInt("handler_errors")
	eEventsThrown    = expvar.NewInt("events_thrown")
	eEventsExpired   = expvar.NewInt("events_expired")
	ePersistFailures = expvar.NewInt("persistence_failures")
)

var (
	pTriggerFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Subsystem: "trigger",
		Name:      "fires_total",
		Help:      "Number of trigger fires, by trigger kind.",
	}, []string{"kind"})

	pQueueAdmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Subsystem: "queue",
		Name:      "admissions_total",
		Help:      "Number of instruction blocks admitted to a destination queue, by priority.",
	}, []string{"priority"})

	pQueueDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Subsystem: "queue",
		Name:      "drops_total",
		Help:      "Number of normal-priority blocks dropped because the queue was non-empty.",
	})

	pHandlerRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Subsystem: "handler",
		Name:      "runs_total",
		Help:      "Number of instruction handler invocations, by action.",
	}, []string{"action"})

	pHandlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Subsystem: "handler",
		Name:      "errors_total",
		Help:      "Number of instruction handler invocations that returned an error, by action.",
	}, []string{"action"})

	pEventsThrown = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Subsystem: "events",
		Name:      "thrown_total",
		Help:      "Number of events thrown into the event store.",
	})

	pEventsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Subsystem: "events",
		Name:      "expired_total",
		Help:      "Number of events that expired unconsumed.",
	})

	pPersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Subsystem: "state",
		Name:      "persistence_failures_total",
		Help:      "Number of failed state persistence writes.",
	})

	pDestinations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Subsystem: "runtime",
		Name:      "destinations",
		Help:      "Number of scheduler runtimes, by run state.",
	}, []string{"state"})
)

// Register adds every collector to reg. Call once at startup with
// prometheus.DefaultRegisterer (or a dedicated registry for tests).
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		pTriggerFires, pQueueAdmissions, pQueueDrops,
		pHandlerRuns, pHandlerErrors,
		pEventsThrown, pEventsExpired, pPersistFailures,
		pDestinations,
	)
}

func TriggerFired(kind string) {
	eTriggerFires.Add(1)
	pTriggerFires.WithLabelValues(kind).Inc()
}

func QueueAdmitted(priority string) {
	eQueueAdmissions.Add(1)
	pQueueAdmissions.WithLabelValues(priority).Inc()
}

func QueueDropped() {
	eQueueDrops.Add(1)
	pQueueDrops.Inc()
}

func HandlerRan(action string) {
	eHandlerRuns.Add(1)
	pHandlerRuns.WithLabelValues(action).Inc()
}

func HandlerErrored(action string) {
	eHandlerErrors.Add(1)
	pHandlerErrors.WithLabelValues(action).Inc()
}

func EventThrown() {
	eEventsThrown.Add(1)
	pEventsThrown.Inc()
}

func EventExpired() {
	eEventsExpired.Add(1)
	pEventsExpired.Inc()
}

func PersistenceFailed() {
	ePersistFailures.Add(1)
	pPersistFailures.Inc()
}

// SetDestinationCounts replaces the runtime gauge with a fresh snapshot,
// keyed by model.RunState string values ("running", "paused", "stopped").
func SetDestinationCounts(counts map[string]int) {
	pDestinations.Reset()
	for state, n := range counts {
		pDestinations.WithLabelValues(state).Set(float64(n))
	}
}
