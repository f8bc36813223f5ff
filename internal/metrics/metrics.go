// Package metrics defines the Prometheus instrumentation for the RSVP core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegistrationsTotal counts admission outcomes: confirmed, pending, waitlist, rejected.
	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rsvp_registrations_total",
		Help: "Registration admission outcomes.",
	}, []string{"outcome"})

	// CheckinsTotal counts check-in attempts by result: ok, already, not_confirmed, not_found.
	CheckinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rsvp_checkins_total",
		Help: "Check-in attempts by result.",
	}, []string{"result"})

	// CancellationsTotal counts successful cancellations.
	CancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rsvp_cancellations_total",
		Help: "Successful registration cancellations.",
	})

	// PromotionsTotal counts waitlist promotions.
	PromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rsvp_waitlist_promotions_total",
		Help: "Waitlisted registrations promoted to confirmed.",
	})

	// ReconcileFailures counts failed participant-counter reconciliations.
	ReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rsvp_reconcile_failures_total",
		Help: "Failed event counter reconciliations (retried by the worker).",
	})
)
