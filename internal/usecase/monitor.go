package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/util"
)

// reconcileWindow bounds how far a realized price may sit from the
// forecast target date and still settle the prediction.
const reconcileWindow = time.Hour

// MonitorConfig tunes degradation detection.
type MonitorConfig struct {
	MAPEThreshold    float64
	DegradationRatio float64
	RecentWindowDays int
	BaselineDays     int
	MinSamples       int
}

// ModelMonitor tracks predictions against realized prices, computes
// rolling accuracy, and recommends retraining or rollback.
type ModelMonitor struct {
	cfg      MonitorConfig
	store    domrepo.MonitorStore
	prices   domrepo.PriceStore
	registry domrepo.ModelRegistry
	metrics  domrepo.Metrics
	l        *applogger.Logger
}

func NewModelMonitor(cfg MonitorConfig, store domrepo.MonitorStore, prices domrepo.PriceStore, registry domrepo.ModelRegistry, metrics domrepo.Metrics, l *applogger.Logger) *ModelMonitor {
	if l == nil {
		l = applogger.Nop()
	}
	return &ModelMonitor{cfg: cfg, store: store, prices: prices, registry: registry, metrics: metrics, l: l}
}

// RecordPrediction appends a prediction record with the realized price
// unset. Target dates are interpreted as UTC.
func (m *ModelMonitor) RecordPrediction(ctx context.Context, version, assetID string, targetDate time.Time, predicted float64) error {
	return m.store.InsertPrediction(ctx, models.PredictionRecord{
		ModelVersion:   version,
		AssetID:        assetID,
		TargetDate:     targetDate.UTC(),
		PredictedPrice: predicted,
		MadeAt:         time.Now().UTC(),
	})
}

// ReconcileActuals settles every open prediction whose target date has
// a stored observation within the reconcile window, picking the
// temporally closest one. Records with no match stay open and are
// retried on the next call. Returns how many records were settled.
func (m *ModelMonitor) ReconcileActuals(ctx context.Context) (int, error) {
	open, err := m.store.UnreconciledPredictions(ctx)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, rec := range open {
		obs, err := m.prices.Range(ctx, rec.AssetID,
			rec.TargetDate.Add(-reconcileWindow), rec.TargetDate.Add(reconcileWindow))
		if err != nil {
			return settled, err
		}
		closest := closestObservation(obs, rec.TargetDate)
		if closest == nil {
			continue
		}
		if err := m.store.SetActualPrice(ctx, rec.ID, closest.Price); err != nil {
			return settled, err
		}
		settled++
	}

	if m.metrics != nil && settled > 0 {
		m.metrics.RecordReconciliation(settled)
	}
	m.l.Info("reconciliation pass complete",
		applogger.Int("open", len(open)),
		applogger.Int("settled", settled),
	)
	return settled, nil
}

func closestObservation(obs []models.PriceObservation, target time.Time) *models.PriceObservation {
	var best *models.PriceObservation
	var bestDist time.Duration
	for i := range obs {
		dist := obs[i].Timestamp.Sub(target)
		if dist < 0 {
			dist = -dist
		}
		if best == nil || dist < bestDist {
			best = &obs[i]
			bestDist = dist
		}
	}
	return best
}

// ComputeMetrics evaluates reconciled predictions over the trailing
// window and upserts the day's performance snapshot. With no reconciled
// samples it returns a zero snapshot and writes nothing.
func (m *ModelMonitor) ComputeMetrics(ctx context.Context, version, assetID string, windowDays int) (*models.PerformanceSnapshot, error) {
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	recs, err := m.store.ReconciledSince(ctx, version, assetID, since)
	if err != nil {
		return nil, err
	}

	snap := &models.PerformanceSnapshot{
		ModelVersion: version,
		AssetID:      assetID,
		MetricDate:   util.DayStart(time.Now()),
		PeriodDays:   windowDays,
	}
	if len(recs) == 0 {
		return snap, nil
	}

	eval := evalPredictions(recs)
	snap.RMSE = eval.RMSE
	snap.MAE = eval.MAE
	snap.MAPE = eval.MAPE
	snap.SampleSize = len(recs)

	if err := m.store.UpsertSnapshot(ctx, *snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func evalPredictions(recs []models.PredictionRecord) models.EvalMetrics {
	var sqSum, absSum, pctSum float64
	pctN := 0
	for _, rec := range recs {
		if rec.ActualPrice == nil {
			continue
		}
		d := rec.PredictedPrice - *rec.ActualPrice
		sqSum += d * d
		absSum += math.Abs(d)
		if *rec.ActualPrice != 0 {
			pctSum += math.Abs(d / *rec.ActualPrice)
			pctN++
		}
	}
	n := float64(len(recs))
	eval := models.EvalMetrics{
		RMSE: math.Sqrt(sqSum / n),
		MAE:  absSum / n,
	}
	if pctN > 0 {
		eval.MAPE = pctSum / float64(pctN) * 100
	}
	return eval
}

// Maintain runs one reconciliation pass and refreshes the recent and
// baseline snapshots of every registered model.
func (m *ModelMonitor) Maintain(ctx context.Context) error {
	if _, err := m.ReconcileActuals(ctx); err != nil {
		return err
	}
	versions, err := m.registry.Versions(ctx, "")
	if err != nil {
		return err
	}
	for _, mv := range versions {
		for _, days := range []int{m.cfg.RecentWindowDays, m.cfg.BaselineDays} {
			if _, err := m.ComputeMetrics(ctx, mv.Version, mv.AssetID, days); err != nil {
				return err
			}
		}
	}
	return nil
}

// PerformanceHistory returns snapshots ascending by date.
func (m *ModelMonitor) PerformanceHistory(ctx context.Context, version, assetID string, days int) ([]models.PerformanceSnapshot, error) {
	return m.store.Snapshots(ctx, version, assetID, days)
}

// DetectDegradation compares the recent window against the baseline.
// Degraded when recent MAPE exceeds the absolute threshold or the
// recent/baseline ratio exceeds the configured ratio. Fewer than
// MinSamples recent samples reports insufficient data, not degraded.
func (m *ModelMonitor) DetectDegradation(ctx context.Context, version, assetID string) (*models.DegradationReport, error) {
	recent, err := m.windowEval(ctx, version, assetID, m.cfg.RecentWindowDays)
	if err != nil {
		return nil, err
	}
	if recent.n < m.cfg.MinSamples {
		return &models.DegradationReport{
			Degraded: false,
			Reason:   fmt.Sprintf("insufficient data: %d reconciled samples in last %dd", recent.n, m.cfg.RecentWindowDays),
		}, nil
	}

	baseline, err := m.windowEval(ctx, version, assetID, m.cfg.BaselineDays)
	if err != nil {
		return nil, err
	}

	report := &models.DegradationReport{
		RecentMAPE:   recent.mape,
		BaselineMAPE: baseline.mape,
	}
	if baseline.mape > 0 {
		report.DegradationRatio = recent.mape / baseline.mape
	}
	report.ThresholdHit = recent.mape > m.cfg.MAPEThreshold
	report.RatioHit = baseline.mape > 0 && report.DegradationRatio > m.cfg.DegradationRatio
	report.Degraded = report.ThresholdHit || report.RatioHit

	switch {
	case report.ThresholdHit && report.RatioHit:
		report.Reason = fmt.Sprintf("recent MAPE %.2f%% above threshold and %.2fx baseline", recent.mape, report.DegradationRatio)
	case report.ThresholdHit:
		report.Reason = fmt.Sprintf("recent MAPE %.2f%% above threshold %.2f%%", recent.mape, m.cfg.MAPEThreshold)
	case report.RatioHit:
		report.Reason = fmt.Sprintf("recent MAPE %.2fx baseline", report.DegradationRatio)
	}
	return report, nil
}

type windowStats struct {
	mape float64
	n    int
}

func (m *ModelMonitor) windowEval(ctx context.Context, version, assetID string, days int) (windowStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	recs, err := m.store.ReconciledSince(ctx, version, assetID, since)
	if err != nil {
		return windowStats{}, err
	}
	if len(recs) == 0 {
		return windowStats{}, nil
	}
	return windowStats{mape: evalPredictions(recs).MAPE, n: len(recs)}, nil
}

// ShouldRetrain recommends retraining when recent MAPE exceeds the
// threshold or degradation is detected.
func (m *ModelMonitor) ShouldRetrain(ctx context.Context, version, assetID string) (*models.RetrainAdvice, error) {
	recent, err := m.windowEval(ctx, version, assetID, m.cfg.RecentWindowDays)
	if err != nil {
		return nil, err
	}
	if recent.n >= m.cfg.MinSamples && recent.mape > m.cfg.MAPEThreshold {
		return &models.RetrainAdvice{
			ShouldRetrain: true,
			Reason:        fmt.Sprintf("recent MAPE %.2f%% exceeds threshold %.2f%%", recent.mape, m.cfg.MAPEThreshold),
			CurrentMAPE:   recent.mape,
		}, nil
	}

	report, err := m.DetectDegradation(ctx, version, assetID)
	if err != nil {
		return nil, err
	}
	if report.Degraded {
		return &models.RetrainAdvice{
			ShouldRetrain: true,
			Reason:        report.Reason,
			CurrentMAPE:   recent.mape,
		}, nil
	}
	return &models.RetrainAdvice{
		ShouldRetrain: false,
		Reason:        fmt.Sprintf("current MAPE %.2f%% within bounds", recent.mape),
		CurrentMAPE:   recent.mape,
	}, nil
}

// HealthScore computes the composite score in [0,100]. The deduction
// schedule is fixed: downstream consumers display and alert on these
// exact cut points.
func (m *ModelMonitor) HealthScore(ctx context.Context, version, assetID string) (float64, error) {
	report, err := m.DetectDegradation(ctx, version, assetID)
	if err != nil {
		return 0, err
	}
	recent, err := m.windowEval(ctx, version, assetID, m.cfg.RecentWindowDays)
	if err != nil {
		return 0, err
	}

	score := 100.0
	if report.Degraded {
		score -= 30
	}
	switch {
	case recent.mape > 20:
		score -= 20
	case recent.mape > 10:
		score -= 10
	}
	switch {
	case recent.n < 5:
		score -= 30
	case recent.n < 10:
		score -= 15
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

// HealthReports builds a report for every registered model of an
// asset; with an empty assetID, for every registered model.
func (m *ModelMonitor) HealthReports(ctx context.Context, assetID string) ([]models.HealthReport, error) {
	versions, err := m.registry.Versions(ctx, assetID)
	if err != nil {
		return nil, err
	}

	reports := make([]models.HealthReport, 0, len(versions))
	for _, mv := range versions {
		score, err := m.HealthScore(ctx, mv.Version, mv.AssetID)
		if err != nil {
			return nil, err
		}
		degr, err := m.DetectDegradation(ctx, mv.Version, mv.AssetID)
		if err != nil {
			return nil, err
		}
		advice, err := m.ShouldRetrain(ctx, mv.Version, mv.AssetID)
		if err != nil {
			return nil, err
		}

		recommendation := "healthy"
		if advice.ShouldRetrain {
			recommendation = "retrain: " + advice.Reason
		} else if score < 70 {
			recommendation = "watch: " + advice.Reason
		}

		if m.metrics != nil {
			m.metrics.RecordHealthScore(mv.AssetID, mv.Version, score)
		}
		reports = append(reports, models.HealthReport{
			Version:        mv.Version,
			AssetID:        mv.AssetID,
			Score:          score,
			Degraded:       degr.Degraded,
			Recommendation: recommendation,
		})
	}
	return reports, nil
}
