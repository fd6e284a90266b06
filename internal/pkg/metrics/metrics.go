// Package metrics holds the Prometheus collectors shared by the API and the
// worker. Collectors register with the default registry on package init.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CreditReservations counts reserve attempts by result: ok/insufficient/error.
	CreditReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "techpack_credit_reservations_total",
			Help: "Total number of credit reservation attempts",
		},
		[]string{"result"},
	)

	// CreditRefunds counts refund attempts by result: ok/noop/pending/error.
	CreditRefunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "techpack_credit_refunds_total",
			Help: "Total number of credit refund attempts",
		},
		[]string{"result"},
	)

	CreditsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "techpack_credit_records_expired_total",
			Help: "Total number of credit records moved to expired by the sweep",
		},
	)

	Generations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "techpack_generations_total",
			Help: "Total number of generation operations",
		},
		[]string{"operation", "result"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "techpack_generation_duration_seconds",
			Help:    "Duration of generation operations",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"operation"},
	)

	BackgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "techpack_background_tasks_total",
			Help: "Total number of finished background tasks",
		},
		[]string{"name", "result"},
	)

	BackgroundTasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "techpack_background_tasks_in_flight",
			Help: "Number of background tasks currently running",
		},
	)

	LockAcquire = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "techpack_lock_acquire_total",
			Help: "Total number of distributed lock acquisition attempts",
		},
		[]string{"name", "result"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
