package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// These are the metrics functions exposed by the package. By default they are all
// NOP functions to minimize overhead when metrics are not enabled. The 'Init'
// function replaces them with functions having implementations.

var IncOutcomes withLabel = func(string) {}
var IncEvents withLabel = func(string) {}
var IncAttempts noLabel = func() {}
var IncRetries noLabel = func() {}
var DeltaActiveWorkers delta = func(float64) {}
var ObservePullSeconds observe = func(float64) {}

type withLabel func(string)
type noLabel func()
type delta func(float64)
type observe func(float64)

const (
	namespace             = "pullgather"
	outcomes_total        = "outcomes_total"
	events_total          = "events_total"
	attempts_total        = "attempts_total"
	retries_total         = "retries_total"
	active_workers        = "active_workers"
	pull_duration_seconds = "pull_duration_seconds"
	outcome_label         = "outcome"
	kind_label            = "kind"
)

// Prometheus metrics objects

var outcomesTotal *prometheus.CounterVec
var eventsTotal *prometheus.CounterVec
var attemptsTotal prometheus.Counter
var retriesTotal prometheus.Counter
var activeWorkers prometheus.Gauge
var pullDurationSeconds prometheus.Histogram

// addPullgatherMetrics creates the metrics and assigns a function to actually
// implement each one.
func addPullgatherMetrics() {
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      outcomes_total,
			Namespace: namespace,
			Help:      "Total image pull outcomes by outcome kind",
		},
		[]string{outcome_label},
	)
	IncOutcomes = func(outcome string) {
		outcomesTotal.With(prometheus.Labels{outcome_label: outcome}).Inc()
	}

	///
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      events_total,
			Namespace: namespace,
			Help:      "Total pull stream events by classification",
		},
		[]string{kind_label},
	)
	IncEvents = func(kind string) {
		eventsTotal.With(prometheus.Labels{kind_label: kind}).Inc()
	}

	///
	attemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      attempts_total,
			Namespace: namespace,
			Help:      "Total pull attempts including retries",
		},
	)
	IncAttempts = func() {
		attemptsTotal.Inc()
	}

	///
	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      retries_total,
			Namespace: namespace,
			Help:      "Total retries after a transient failure",
		},
	)
	IncRetries = func() {
		retriesTotal.Inc()
	}

	///
	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name:      active_workers,
			Namespace: namespace,
			Help:      "Number of pulls holding an admission slot",
		},
	)
	DeltaActiveWorkers = func(delta float64) {
		activeWorkers.Add(delta)
	}

	///
	pullDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:      pull_duration_seconds,
			Namespace: namespace,
			Help:      "Wall time of one image pull from first attempt to outcome",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
	ObservePullSeconds = func(secs float64) {
		pullDurationSeconds.Observe(secs)
	}
}
