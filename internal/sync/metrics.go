package sync

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/integrations/internal/domain"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_sync",
		Subsystem: "orchestrator",
		Name:      "runs_total",
		Help:      "Number of finalized sync runs grouped by status and trigger.",
	}, []string{"status", "trigger"})

	runsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_sync",
		Subsystem: "orchestrator",
		Name:      "runs_skipped_total",
		Help:      "Number of sync triggers skipped because a run was already in flight.",
	}, []string{"trigger"})

	recordsImported = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "integration_sync",
		Subsystem: "orchestrator",
		Name:      "records_imported_total",
		Help:      "Number of new external records created by sync runs.",
	})

	recordsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "integration_sync",
		Subsystem: "orchestrator",
		Name:      "records_skipped_total",
		Help:      "Number of records skipped as already known or malformed.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "integration_sync",
		Subsystem: "orchestrator",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of finalized sync runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	triggersDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_sync",
		Subsystem: "scheduler",
		Name:      "triggers_dropped_total",
		Help:      "Number of sync triggers dropped because the queue was full.",
	}, []string{"trigger"})

	triggersRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_sync",
		Subsystem: "scheduler",
		Name:      "triggers_rate_limited_total",
		Help:      "Number of sync triggers dropped while a provider rate-limit hint was in effect.",
	}, []string{"trigger"})

	lastRunGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "integration_sync",
		Subsystem: "orchestrator",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the most recently finalized sync run.",
	})
)

func init() {
	prometheus.MustRegister(runsTotal, runsSkipped, recordsImported, recordsSkipped, runDuration, triggersDropped, triggersRateLimited, lastRunGauge)
}

func recordRun(run *domain.SyncRun) {
	runsTotal.WithLabelValues(string(run.Status), string(run.Trigger)).Inc()
	recordsImported.Add(float64(run.RecordsImported))
	recordsSkipped.Add(float64(run.RecordsSkipped))
	if run.CompletedAt != nil {
		runDuration.Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
		lastRunGauge.Set(float64(run.CompletedAt.Unix()))
	}
}

func recordSkip(trigger domain.Trigger) {
	runsSkipped.WithLabelValues(string(trigger)).Inc()
}

func recordTriggerDropped(trigger domain.Trigger) {
	triggersDropped.WithLabelValues(string(trigger)).Inc()
}

func recordHoldoff(trigger domain.Trigger) {
	triggersRateLimited.WithLabelValues(string(trigger)).Inc()
}
