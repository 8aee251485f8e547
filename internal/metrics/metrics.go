package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	passesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swordout_passes_total",
			Help: "Total deposit passes executed",
		},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swordout_pass_duration_seconds",
			Help:    "Duration of a full deposit pass",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	accountsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swordout_accounts_processed_total",
			Help: "Accounts handled per pass by outcome",
		},
		[]string{"outcome"}, // processed, skipped_failing, skipped_retry_delay, skipped_locked, errored
	)

	depositsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swordout_deposits_total",
			Help: "Notification deposit outcomes",
		},
		[]string{"outcome"}, // deposited, skipped, soft_failed, failed
	)

	accountsFailing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swordout_accounts_failing",
			Help: "Accounts currently suspended in failing state",
		},
	)
)

// RecordPass records one complete run over all accounts.
func RecordPass(start time.Time) {
	passesTotal.Inc()
	passDuration.Observe(time.Since(start).Seconds())
}

// RecordAccount records the outcome of processing one account.
func RecordAccount(outcome string) {
	accountsProcessed.WithLabelValues(outcome).Inc()
}

// RecordDeposit records the outcome of processing one notification.
func RecordDeposit(outcome string) {
	depositsTotal.WithLabelValues(outcome).Inc()
}

// SetAccountsFailing updates the failing-accounts gauge.
func SetAccountsFailing(n int) {
	accountsFailing.Set(float64(n))
}

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
