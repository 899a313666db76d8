package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop causes for lighthouse_events_dropped_total.
const (
	dropQueueFull    = "queue_full"
	dropPublishError = "publish_error"
)

var (
	eventsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lighthouse_events_received_total",
			Help: "Number of messages received on the submission endpoint.",
		},
	)
	eventsAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lighthouse_events_accepted_total",
			Help: "Number of events that passed signature verification.",
		},
	)
	eventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_events_rejected_total",
			Help: "Number of events rejected by the verifier, by reason.",
		},
		[]string{"reason"},
	)
	eventsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lighthouse_events_published_total",
			Help: "Number of accepted events handed to the publish channel.",
		},
	)
	eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_events_dropped_total",
			Help: "Number of accepted events dropped before publication, by cause.",
		},
		[]string{"cause"},
	)

	trustedSigners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighthouse_trusted_signers",
			Help: "Number of signers in the current trusted key snapshot.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		eventsReceivedTotal,
		eventsAcceptedTotal,
		eventsRejectedTotal,
		eventsPublishedTotal,
		eventsDroppedTotal,
		trustedSigners,
	)
}

// SetTrustedSigners records the size of the trusted key snapshot in use.
func SetTrustedSigners(n int) {
	trustedSigners.Set(float64(n))
}
