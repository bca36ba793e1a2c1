package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	observations    *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	trainingRuns    *prometheus.CounterVec
	trainingSeconds *prometheus.HistogramVec
	forecasts       *prometheus.CounterVec
	reconciliations prometheus.Counter
	healthScore     *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		observations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_observations_total",
				Help: "Total number of price observations stored",
			},
			[]string{"asset", "source"},
		),
		duplicates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_duplicate_observations_total",
				Help: "Observations rejected because the minute bucket was occupied",
			},
			[]string{"asset"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dashboard_last_price",
				Help: "Last observed price per asset",
			},
			[]string{"asset"},
		),
		trainingRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_training_runs_total",
				Help: "Completed model training runs",
			},
			[]string{"asset"},
		),
		trainingSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dashboard_training_duration_seconds",
				Help:    "Duration of model training runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"asset"},
		),
		forecasts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_forecasts_total",
				Help: "Forecasts served",
			},
			[]string{"asset"},
		),
		reconciliations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dashboard_reconciled_predictions_total",
				Help: "Prediction records filled with realized prices",
			},
		),
		healthScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dashboard_model_health_score",
				Help: "Composite model health score (0-100)",
			},
			[]string{"asset", "version"},
		),
	}
}

// RecordObservation counts a stored observation.
func (r *Recorder) RecordObservation(assetID, source string) {
	r.observations.WithLabelValues(assetID, source).Inc()
}

// RecordDuplicate counts a rejected in-bucket duplicate.
func (r *Recorder) RecordDuplicate(assetID string) {
	r.duplicates.WithLabelValues(assetID).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for an asset.
func (r *Recorder) RecordLastPrice(assetID string, price float64) {
	r.lastPrice.WithLabelValues(assetID).Set(price)
}

// RecordTraining records a completed training run and its duration.
func (r *Recorder) RecordTraining(assetID string, seconds float64) {
	r.trainingRuns.WithLabelValues(assetID).Inc()
	r.trainingSeconds.WithLabelValues(assetID).Observe(seconds)
}

// RecordForecast counts a served forecast.
func (r *Recorder) RecordForecast(assetID string) {
	r.forecasts.WithLabelValues(assetID).Inc()
}

// RecordReconciliation counts filled prediction records.
func (r *Recorder) RecordReconciliation(n int) {
	r.reconciliations.Add(float64(n))
}

// RecordHealthScore exports the latest composite health score.
func (r *Recorder) RecordHealthScore(assetID, version string, score float64) {
	r.healthScore.WithLabelValues(assetID, version).Set(score)
}
