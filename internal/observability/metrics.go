package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordIngestedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "integration_sync",
		Subsystem: "persistence",
		Name:      "last_record_ingested_timestamp_seconds",
		Help:      "Unix timestamp of the most recent external record persisted to Postgres.",
	})
	recordImportedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "integration_sync",
		Subsystem: "persistence",
		Name:      "last_record_imported_timestamp_seconds",
		Help:      "Unix timestamp of the most recent record imported as a workout session.",
	})
)

func init() {
	prometheus.MustRegister(recordIngestedGauge, recordImportedGauge)
}

// RecordIngested updates the ingestion watermark gauge.
func RecordIngested(ts time.Time) {
	if ts.IsZero() {
		return
	}
	recordIngestedGauge.Set(float64(ts.Unix()))
}

// RecordImported updates the import watermark gauge.
func RecordImported(ts time.Time) {
	if ts.IsZero() {
		return
	}
	recordImportedGauge.Set(float64(ts.Unix()))
}
