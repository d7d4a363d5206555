package webhook

import "github.com/prometheus/client_golang/prometheus"

var (
	receivedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_sync",
		Subsystem: "webhook",
		Name:      "events_received_total",
		Help:      "Number of webhook requests received per provider.",
	}, []string{"provider"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_sync",
		Subsystem: "webhook",
		Name:      "events_rejected_total",
		Help:      "Number of webhook requests rejected, grouped by reason.",
	}, []string{"provider", "reason"})

	dispatchedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "integration_sync",
		Subsystem: "webhook",
		Name:      "events_dispatched_total",
		Help:      "Number of webhook events handed to the scheduler.",
	}, []string{"provider", "event_type"})
)

func init() {
	prometheus.MustRegister(receivedCounter, rejectedCounter, dispatchedCounter)
}

func recordReceived(provider string) {
	receivedCounter.WithLabelValues(provider).Inc()
}

func recordRejected(provider, reason string) {
	rejectedCounter.WithLabelValues(provider, reason).Inc()
}

func recordDispatched(provider, eventType string) {
	dispatchedCounter.WithLabelValues(provider, eventType).Inc()
}
