// Package metrics provides Prometheus collectors for the generation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhaseDuration tracks how long each orchestrator phase takes.
	// Labels: phase (analyzing, planning, generating_files, synthesizing_manifest)
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storyforge",
			Name:      "phase_duration_seconds",
			Help:      "Duration of orchestrator phases in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"phase"},
	)

	// FileOutcomes counts terminal per-file outcomes.
	// Labels: outcome (code-produced, aborted-unknown-tool, aborted-no-feedback, round-limit-exceeded, timed-out)
	FileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "file_outcomes_total",
			Help:      "Total number of per-file generation outcomes",
		},
		[]string{"outcome"},
	)

	// GenerationRounds records how many rounds a file needed before it terminated.
	GenerationRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "storyforge",
			Name:      "generation_rounds",
			Help:      "Rounds used per file by the generation loop",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	// CacheRequests counts memoized collaborator lookups.
	// Labels: result (hit, miss, error)
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "cache_requests_total",
			Help:      "Total number of memoization cache lookups",
		},
		[]string{"result"},
	)

	// Retries counts empty-response retries.
	// Labels: stage (analysis, planning, ...)
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "retries_total",
			Help:      "Total number of retries after an empty collaborator response",
		},
		[]string{"stage"},
	)

	// SecretFindings counts credentials found in generated files.
	// Labels: rule (gitleaks rule id), action (warned, redacted)
	SecretFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "secret_findings_total",
			Help:      "Total number of possible secrets found in generated files",
		},
		[]string{"rule", "action"},
	)

	// TasksTotal counts finished tasks.
	// Labels: result (success, failure, error)
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "tasks_total",
			Help:      "Total number of processed tasks by result",
		},
		[]string{"result"},
	)
)

// ObservePhase records the duration of phase since start.
func ObservePhase(phase string, start time.Time) {
	PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// RecordOutcome records a terminal file outcome and the rounds it used.
func RecordOutcome(outcome string, rounds int) {
	FileOutcomes.WithLabelValues(outcome).Inc()
	if rounds > 0 {
		GenerationRounds.Observe(float64(rounds))
	}
}

// RecordCache records a memoization lookup result.
func RecordCache(hit bool) {
	if hit {
		CacheRequests.WithLabelValues("hit").Inc()
		return
	}
	CacheRequests.WithLabelValues("miss").Inc()
}

// RecordCacheError records a failed store interaction.
func RecordCacheError() {
	CacheRequests.WithLabelValues("error").Inc()
}

// RecordRetry records one retry for stage.
func RecordRetry(stage string) {
	Retries.WithLabelValues(stage).Inc()
}

// RecordTask records a finished task.
func RecordTask(result string) {
	TasksTotal.WithLabelValues(result).Inc()
}

// RecordSecret records one finding in a generated file.
func RecordSecret(rule, action string) {
	SecretFindings.WithLabelValues(rule, action).Inc()
}
