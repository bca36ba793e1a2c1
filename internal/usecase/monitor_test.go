package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/repository"
)

// fakeMonitorStore keeps prediction records and snapshots in memory.
type fakeMonitorStore struct {
	mu     sync.Mutex
	nextID int64
	preds  []models.PredictionRecord
	snaps  []models.PerformanceSnapshot
}

func (s *fakeMonitorStore) Init(context.Context) error { return nil }

func (s *fakeMonitorStore) InsertPrediction(_ context.Context, rec models.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.preds = append(s.preds, rec)
	return nil
}

func (s *fakeMonitorStore) UnreconciledPredictions(context.Context) ([]models.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PredictionRecord
	for _, rec := range s.preds {
		if rec.ActualPrice == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeMonitorStore) SetActualPrice(_ context.Context, id int64, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.preds {
		if s.preds[i].ID == id && s.preds[i].ActualPrice == nil {
			p := price
			s.preds[i].ActualPrice = &p
			return nil
		}
	}
	return fmt.Errorf("prediction %d: %w", id, models.ErrNotFound)
}

func (s *fakeMonitorStore) ReconciledSince(_ context.Context, version, assetID string, since time.Time) ([]models.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PredictionRecord
	for _, rec := range s.preds {
		if rec.ModelVersion == version && rec.AssetID == assetID &&
			rec.ActualPrice != nil && !rec.TargetDate.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeMonitorStore) UpsertSnapshot(_ context.Context, snap models.PerformanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snaps {
		if s.snaps[i].ModelVersion == snap.ModelVersion && s.snaps[i].AssetID == snap.AssetID &&
			s.snaps[i].MetricDate.Equal(snap.MetricDate) && s.snaps[i].PeriodDays == snap.PeriodDays {
			s.snaps[i] = snap
			return nil
		}
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *fakeMonitorStore) Snapshots(_ context.Context, version, assetID string, days int) ([]models.PerformanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var out []models.PerformanceSnapshot
	for _, snap := range s.snaps {
		if snap.ModelVersion == version && snap.AssetID == assetID && !snap.MetricDate.Before(cutoff) {
			out = append(out, snap)
		}
	}
	return out, nil
}

// fakeRegistry mimics the postgres registry with per-asset semver bumps.
type fakeRegistry struct {
	mu   sync.Mutex
	rows []models.ModelVersion
}

func (r *fakeRegistry) Init(context.Context) error { return nil }

func (r *fakeRegistry) Register(ctx context.Context, assetID, artifactPath string, metrics models.EvalMetrics, hp models.Hyperparameters) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := ""
	var latest time.Time
	for _, row := range r.rows {
		if row.AssetID == assetID && (current == "" || row.CreatedAt.After(latest)) {
			current = row.Version
			latest = row.CreatedAt
		}
	}
	version, err := models.NextVersion(current)
	if err != nil {
		return "", err
	}
	r.rows = append(r.rows, models.ModelVersion{
		Version:         version,
		AssetID:         assetID,
		CreatedAt:       time.Now().UTC().Add(time.Duration(len(r.rows)) * time.Millisecond),
		RMSE:            metrics.RMSE,
		MAE:             metrics.MAE,
		MAPE:            metrics.MAPE,
		Hyperparameters: hp,
		ArtifactPath:    artifactPath,
	})
	return version, nil
}

func (r *fakeRegistry) Versions(_ context.Context, assetID string) ([]models.ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ModelVersion
	for _, row := range r.rows {
		if assetID == "" || row.AssetID == assetID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeRegistry) Latest(_ context.Context, assetID string) (*models.ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.ModelVersion
	for i := range r.rows {
		if r.rows[i].AssetID != assetID {
			continue
		}
		if best == nil || r.rows[i].CreatedAt.After(best.CreatedAt) {
			best = &r.rows[i]
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no models for %s: %w", assetID, models.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

func (r *fakeRegistry) ByVersion(_ context.Context, version string) (*models.ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.ModelVersion
	for i := range r.rows {
		if r.rows[i].Version != version {
			continue
		}
		if best == nil || r.rows[i].CreatedAt.After(best.CreatedAt) {
			best = &r.rows[i]
		}
	}
	if best == nil {
		return nil, fmt.Errorf("version %s: %w", version, models.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

func (r *fakeRegistry) RollbackCandidates(ctx context.Context, assetID, excludeVersion string) ([]models.ModelVersion, error) {
	all, err := r.Versions(ctx, assetID)
	if err != nil {
		return nil, err
	}
	var out []models.ModelVersion
	for _, row := range all {
		if row.Version != excludeVersion {
			out = append(out, row)
		}
	}
	return out, nil
}

func testMonitorConfig() MonitorConfig {
	return MonitorConfig{
		MAPEThreshold:    15,
		DegradationRatio: 1.5,
		RecentWindowDays: 7,
		BaselineDays:     30,
		MinSamples:       5,
	}
}

// reconciled builds a settled prediction record daysAgo in the past.
func reconciled(version, asset string, daysAgo int, predicted, actual float64) models.PredictionRecord {
	a := actual
	target := time.Now().UTC().AddDate(0, 0, -daysAgo)
	return models.PredictionRecord{
		ModelVersion:   version,
		AssetID:        asset,
		TargetDate:     target,
		PredictedPrice: predicted,
		ActualPrice:    &a,
		MadeAt:         target.AddDate(0, 0, -1),
	}
}

func seedRecords(t *testing.T, store *fakeMonitorStore, recs ...models.PredictionRecord) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, store.InsertPrediction(context.Background(), rec))
	}
}

func TestReconcileActualsPicksClosest(t *testing.T) {
	ctx := context.Background()
	store := &fakeMonitorStore{}
	prices := repository.NewMemoryPriceStore()
	mon := NewModelMonitor(testMonitorConfig(), store, prices, &fakeRegistry{}, nil, nil)

	target := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Hour)
	require.NoError(t, mon.RecordPrediction(ctx, "v1.0.0", "btc", target, 105))
	require.NoError(t, mon.RecordPrediction(ctx, "v1.0.0", "btc", target.AddDate(0, 0, 3), 110))

	// two observations inside the window, one closer than the other
	for _, obs := range []models.PriceObservation{
		{AssetID: "btc", Timestamp: target.Add(40 * time.Minute), Price: 104, Source: models.SourcePyth},
		{AssetID: "btc", Timestamp: target.Add(-10 * time.Minute), Price: 101, Source: models.SourcePyth},
	} {
		ok, err := prices.Record(ctx, obs)
		require.NoError(t, err)
		require.True(t, ok)
	}

	settled, err := mon.ReconcileActuals(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, settled)

	recs, err := store.ReconciledSince(ctx, "v1.0.0", "btc", target.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, 101.0, *recs[0].ActualPrice)

	// the future-dated prediction stays open for the next pass
	open, err := store.UnreconciledPredictions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestReconcileActualsIgnoresOutOfWindow(t *testing.T) {
	ctx := context.Background()
	store := &fakeMonitorStore{}
	prices := repository.NewMemoryPriceStore()
	mon := NewModelMonitor(testMonitorConfig(), store, prices, &fakeRegistry{}, nil, nil)

	target := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Hour)
	require.NoError(t, mon.RecordPrediction(ctx, "v1.0.0", "eth", target, 2000))

	ok, err := prices.Record(ctx, models.PriceObservation{
		AssetID: "eth", Timestamp: target.Add(90 * time.Minute), Price: 2100, Source: models.SourcePyth,
	})
	require.NoError(t, err)
	require.True(t, ok)

	settled, err := mon.ReconcileActuals(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, settled)
}

func TestComputeMetricsEmptyWindowWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := &fakeMonitorStore{}
	mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)

	snap, err := mon.ComputeMetrics(ctx, "v1.0.0", "btc", 7)
	require.NoError(t, err)
	require.Equal(t, 0, snap.SampleSize)
	require.Zero(t, snap.MAPE)
	require.Empty(t, store.snaps)
}

func TestComputeMetricsValues(t *testing.T) {
	ctx := context.Background()
	store := &fakeMonitorStore{}
	mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)

	seedRecords(t, store,
		reconciled("v1.0.0", "btc", 1, 110, 100),
		reconciled("v1.0.0", "btc", 2, 90, 100),
	)

	snap, err := mon.ComputeMetrics(ctx, "v1.0.0", "btc", 7)
	require.NoError(t, err)
	require.Equal(t, 2, snap.SampleSize)
	require.InDelta(t, 10.0, snap.RMSE, 1e-9)
	require.InDelta(t, 10.0, snap.MAE, 1e-9)
	require.InDelta(t, 10.0, snap.MAPE, 1e-9)
	require.Len(t, store.snaps, 1)

	// recomputing the same day replaces the snapshot instead of duplicating it
	_, err = mon.ComputeMetrics(ctx, "v1.0.0", "btc", 7)
	require.NoError(t, err)
	require.Len(t, store.snaps, 1)
}

func TestDetectDegradation(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient samples", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		seedRecords(t, store,
			reconciled("v1.0.0", "btc", 1, 150, 100),
			reconciled("v1.0.0", "btc", 2, 150, 100),
			reconciled("v1.0.0", "btc", 3, 150, 100),
		)

		report, err := mon.DetectDegradation(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.False(t, report.Degraded)
		require.Contains(t, report.Reason, "insufficient data")
	})

	t.Run("absolute threshold", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		for day := 1; day <= 5; day++ {
			seedRecords(t, store, reconciled("v1.0.0", "btc", day, 120, 100))
		}

		report, err := mon.DetectDegradation(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.True(t, report.Degraded)
		require.True(t, report.ThresholdHit)
		require.InDelta(t, 20.0, report.RecentMAPE, 1e-9)
	})

	t.Run("relative degradation", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		// recent week drifts to 10% error against a 2% baseline
		for day := 1; day <= 5; day++ {
			seedRecords(t, store, reconciled("v1.0.0", "btc", day, 110, 100))
		}
		for day := 8; day <= 27; day++ {
			seedRecords(t, store, reconciled("v1.0.0", "btc", day, 102, 100))
		}

		report, err := mon.DetectDegradation(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.True(t, report.Degraded)
		require.False(t, report.ThresholdHit)
		require.True(t, report.RatioHit)
		require.Greater(t, report.DegradationRatio, 1.5)
	})

	t.Run("healthy", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		for day := 1; day <= 6; day++ {
			seedRecords(t, store, reconciled("v1.0.0", "btc", day, 105, 100))
		}

		report, err := mon.DetectDegradation(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.False(t, report.Degraded)
	})
}

func TestHealthScore(t *testing.T) {
	ctx := context.Background()

	t.Run("full marks", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		for i := 0; i < 12; i++ {
			seedRecords(t, store, reconciled("v1.0.0", "btc", 1+i%6, 105, 100))
		}

		score, err := mon.HealthScore(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.Equal(t, 100.0, score)
	})

	t.Run("moderate error and thin sample", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		for day := 1; day <= 6; day++ {
			seedRecords(t, store, reconciled("v1.0.0", "btc", day, 112, 100))
		}

		// -10 for MAPE above 10, -15 for fewer than 10 samples
		score, err := mon.HealthScore(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.Equal(t, 75.0, score)
	})

	t.Run("degraded with high error", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		for day := 1; day <= 5; day++ {
			seedRecords(t, store, reconciled("v1.0.0", "btc", day, 125, 100))
		}

		// -30 degraded, -20 for MAPE above 20, -15 for fewer than 10 samples
		score, err := mon.HealthScore(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.Equal(t, 35.0, score)
	})

	t.Run("sparse history", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		seedRecords(t, store,
			reconciled("v1.0.0", "btc", 1, 150, 100),
			reconciled("v1.0.0", "btc", 2, 150, 100),
		)

		// too few samples to call degraded, but -20 for error and -30 for sparsity
		score, err := mon.HealthScore(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.Equal(t, 50.0, score)
	})
}

func TestShouldRetrain(t *testing.T) {
	ctx := context.Background()

	t.Run("threshold exceeded", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		for day := 1; day <= 5; day++ {
			seedRecords(t, store, reconciled("v1.0.0", "btc", day, 120, 100))
		}

		advice, err := mon.ShouldRetrain(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.True(t, advice.ShouldRetrain)
		require.Contains(t, advice.Reason, "exceeds threshold")
	})

	t.Run("within bounds", func(t *testing.T) {
		store := &fakeMonitorStore{}
		mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), &fakeRegistry{}, nil, nil)
		for day := 1; day <= 6; day++ {
			seedRecords(t, store, reconciled("v1.0.0", "btc", day, 104, 100))
		}

		advice, err := mon.ShouldRetrain(ctx, "v1.0.0", "btc")
		require.NoError(t, err)
		require.False(t, advice.ShouldRetrain)
		require.Contains(t, advice.Reason, "within bounds")
	})
}

func TestHealthReports(t *testing.T) {
	ctx := context.Background()
	store := &fakeMonitorStore{}
	registry := &fakeRegistry{}
	mon := NewModelMonitor(testMonitorConfig(), store, repository.NewMemoryPriceStore(), registry, nil, nil)

	v1, err := registry.Register(ctx, "btc", "/tmp/a.json", models.EvalMetrics{}, models.Hyperparameters{})
	require.NoError(t, err)
	v2, err := registry.Register(ctx, "btc", "/tmp/b.json", models.EvalMetrics{}, models.Hyperparameters{})
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", v1)
	require.Equal(t, "v1.0.1", v2)

	// v1 accumulates large errors, v2 only a couple of noisy points
	for day := 1; day <= 5; day++ {
		seedRecords(t, store, reconciled(v1, "btc", day, 130, 100))
	}
	seedRecords(t, store,
		reconciled(v2, "btc", 1, 130, 100),
		reconciled(v2, "btc", 2, 130, 100),
	)

	reports, err := mon.HealthReports(ctx, "btc")
	require.NoError(t, err)
	require.Len(t, reports, 2)

	byVersion := map[string]models.HealthReport{}
	for _, rep := range reports {
		byVersion[rep.Version] = rep
	}

	require.True(t, byVersion[v1].Degraded)
	require.Contains(t, byVersion[v1].Recommendation, "retrain:")
	require.Less(t, byVersion[v1].Score, 70.0)

	require.False(t, byVersion[v2].Degraded)
	require.Contains(t, byVersion[v2].Recommendation, "watch:")
}
