// Package metrics declares the Prometheus collectors exported by gitscout.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchAttempts counts outbound call attempts by outcome
	// ("ok", "exhausted", "transport_error", "canceled").
	DispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gitscout_dispatch_attempts_total",
		Help: "Total number of outbound call attempts made by the dispatcher",
	}, []string{"service", "outcome"})

	// DispatchDuration tracks the wall time of whole dispatches, retries and
	// backoff included.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gitscout_dispatch_duration_seconds",
		Help:    "Histogram of dispatch duration including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	// CredentialDeactivations counts credentials retired for falling below
	// their pool threshold.
	CredentialDeactivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gitscout_credential_deactivations_total",
		Help: "Total number of credentials automatically deactivated",
	}, []string{"service"})

	// CredentialRemaining reports the last observed remaining capacity.
	CredentialRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gitscout_credential_remaining",
		Help: "Last observed remaining capacity per credential",
	}, []string{"service", "name"})
)
