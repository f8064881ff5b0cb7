// Package metrics exposes provisioning counters and tenant pool statistics
// to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pgtenant"

// Registration outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the provisioning collectors. A nil *Metrics records nothing.
type Metrics struct {
	// RegistrationsTotal counts tenant registrations by outcome.
	RegistrationsTotal *prometheus.CounterVec
	// DatabasesCreatedTotal counts databases created on first registration.
	DatabasesCreatedTotal *prometheus.CounterVec
	// MigrationsTotal counts migration tool runs by status.
	MigrationsTotal *prometheus.CounterVec
	// RegistrationDuration tracks end-to-end registration latency.
	RegistrationDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegistrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registrations_total",
				Help:      "Total tenant registrations",
			},
			[]string{"tenant", "outcome"},
		),
		DatabasesCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "databases_created_total",
				Help:      "Total tenant databases created",
			},
			[]string{"tenant"},
		),
		MigrationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_total",
				Help:      "Total migration tool runs",
			},
			[]string{"tenant", "status"},
		),
		RegistrationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "registration_duration_seconds",
				Help:      "Time spent registering a tenant",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tenant"},
		),
	}
}

// ObserveRegistration records one finished registration
func (m *Metrics) ObserveRegistration(tenant, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(tenant, outcome).Inc()
	m.RegistrationDuration.WithLabelValues(tenant).Observe(d.Seconds())
}

// IncDatabaseCreated records a newly created tenant database
func (m *Metrics) IncDatabaseCreated(tenant string) {
	if m == nil {
		return
	}
	m.DatabasesCreatedTotal.WithLabelValues(tenant).Inc()
}

// IncMigration records one migration tool run
func (m *Metrics) IncMigration(tenant, status string) {
	if m == nil {
		return
	}
	m.MigrationsTotal.WithLabelValues(tenant, status).Inc()
}
