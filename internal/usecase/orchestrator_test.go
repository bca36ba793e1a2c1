package usecase

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/forecast"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/repository"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/cache"
)

func testForecastConfig(t *testing.T) forecast.Config {
	return forecast.Config{
		ArtifactDir:      t.TempDir(),
		SequenceLength:   10,
		HorizonDays:      5,
		TrainWindowDays:  90,
		HiddenUnits:      8,
		DenseUnits:       4,
		DropoutRate:      0.0,
		LearningRate:     0.01,
		Epochs:           15,
		Patience:         5,
		ValidationSplit:  0.1,
		BatchSize:        16,
		UncertaintyScale: 0.10,
		Seed:             42,
	}
}

// seedRamp stores n daily observations ending yesterday.
func seedRamp(t *testing.T, store domrepo.PriceStore, asset string, n int, start, step float64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		ok, err := store.Record(ctx, models.PriceObservation{
			AssetID:   asset,
			Timestamp: now.AddDate(0, 0, -(n - i)),
			Price:     start + step*float64(i),
			Source:    models.SourcePyth,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}
}

type orchFixture struct {
	orch     *Orchestrator
	store    domrepo.PriceStore
	registry *fakeRegistry
	monStore *fakeMonitorStore
	cache    cache.Service
	cfg      forecast.Config
}

func newOrchFixture(t *testing.T, store domrepo.PriceStore) *orchFixture {
	cfg := testForecastConfig(t)
	registry := &fakeRegistry{}
	monStore := &fakeMonitorStore{}
	mon := NewModelMonitor(testMonitorConfig(), monStore, store, registry, nil, nil)
	fcCache := cache.NewMemoryCache()
	return &orchFixture{
		orch:     NewOrchestrator(cfg, store, registry, mon, fcCache, time.Minute, nil, nil),
		store:    store,
		registry: registry,
		monStore: monStore,
		cache:    fcCache,
		cfg:      cfg,
	}
}

func TestGetOrTrainRegistersInitialVersion(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	seedRamp(t, store, "btc", 60, 100, 0.5)
	fx := newOrchFixture(t, store)

	pred, version, err := fx.orch.GetOrTrain(ctx, "btc")
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", version)
	require.True(t, pred.Trained())

	mv, err := fx.registry.Latest(ctx, "btc")
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", mv.Version)

	// artifact written to its final versioned path
	_, err = os.Stat(forecast.ArtifactPath(fx.cfg.ArtifactDir, "btc", "v1.0.0"))
	require.NoError(t, err)
}

func TestGetOrTrainMemoizes(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	seedRamp(t, store, "btc", 60, 100, 0.5)
	fx := newOrchFixture(t, store)

	first, v1, err := fx.orch.GetOrTrain(ctx, "btc")
	require.NoError(t, err)
	second, v2, err := fx.orch.GetOrTrain(ctx, "btc")
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, v1, v2)
	rows, err := fx.registry.Versions(ctx, "btc")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestGetOrTrainLoadsRegisteredArtifact(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	seedRamp(t, store, "btc", 60, 100, 0.5)
	fx := newOrchFixture(t, store)

	_, _, err := fx.orch.GetOrTrain(ctx, "btc")
	require.NoError(t, err)

	// a fresh orchestrator sharing registry and artifacts loads instead
	// of retraining
	mon := NewModelMonitor(testMonitorConfig(), fx.monStore, store, fx.registry, nil, nil)
	fresh := NewOrchestrator(fx.cfg, store, fx.registry, mon, cache.NewMemoryCache(), time.Minute, nil, nil)

	_, version, err := fresh.GetOrTrain(ctx, "btc")
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", version)

	rows, err := fx.registry.Versions(ctx, "btc")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestRetrainBumpsPatchVersion(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	seedRamp(t, store, "btc", 60, 100, 0.5)
	fx := newOrchFixture(t, store)

	_, v1, err := fx.orch.GetOrTrain(ctx, "btc")
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", v1)

	v2, err := fx.orch.Retrain(ctx, "btc")
	require.NoError(t, err)
	require.Equal(t, "v1.0.1", v2)

	_, active, err := fx.orch.GetOrTrain(ctx, "btc")
	require.NoError(t, err)
	require.Equal(t, "v1.0.1", active)

	rows, err := fx.registry.Versions(ctx, "btc")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

// gateStore blocks the first History call until released, pinning the
// asset in its training state.
type gateStore struct {
	domrepo.PriceStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateStore) History(ctx context.Context, assetID string, days int) ([]models.PriceObservation, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.PriceStore.History(ctx, assetID, days)
}

func TestConcurrentTrainingRejected(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryPriceStore()
	seedRamp(t, mem, "btc", 60, 100, 0.5)
	gate := &gateStore{PriceStore: mem, started: make(chan struct{}), release: make(chan struct{})}
	fx := newOrchFixture(t, gate)

	done := make(chan error, 1)
	go func() {
		_, _, err := fx.orch.GetOrTrain(ctx, "btc")
		done <- err
	}()

	<-gate.started
	require.True(t, fx.orch.Training("btc"))

	_, _, err := fx.orch.GetOrTrain(ctx, "btc")
	require.ErrorIs(t, err, models.ErrTrainingInProgress)

	close(gate.release)
	require.NoError(t, <-done)
	require.False(t, fx.orch.Training("btc"))

	// other assets are unaffected by one asset's training slot
	seedRamp(t, mem, "eth", 60, 2000, 3)
	_, _, err = fx.orch.GetOrTrain(ctx, "eth")
	require.NoError(t, err)
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	seedRamp(t, store, "btc", 60, 100, 0.5)
	fx := newOrchFixture(t, store)

	_, _, err := fx.orch.GetOrTrain(ctx, "btc")
	require.NoError(t, err)
	_, err = fx.orch.Retrain(ctx, "btc")
	require.NoError(t, err)

	res, err := fx.orch.Rollback(ctx, "v1.0.0")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "v1.0.0", res.Model.Version)

	_, active, err := fx.orch.GetOrTrain(ctx, "btc")
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", active)
}

func TestRollbackUnknownVersion(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	fx := newOrchFixture(t, store)

	res, err := fx.orch.Rollback(ctx, "v9.9.9")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Contains(t, res.Error, "unknown version")
}

func TestForecastRecordsAndCaches(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	seedRamp(t, store, "btc", 60, 100, 0.5)
	fx := newOrchFixture(t, store)

	fc, err := fx.orch.Forecast(ctx, "btc", 0)
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", fc.ModelVersion)
	require.Len(t, fc.Predictions, fx.cfg.HorizonDays)
	require.Len(t, fc.Dates, fx.cfg.HorizonDays)

	// every predicted point is queued for later reconciliation
	open, err := fx.monStore.UnreconciledPredictions(ctx)
	require.NoError(t, err)
	require.Len(t, open, fx.cfg.HorizonDays)

	// second call is served from the cache, no new prediction records
	again, err := fx.orch.Forecast(ctx, "btc", 0)
	require.NoError(t, err)
	require.Equal(t, fc.Predictions, again.Predictions)
	open, err = fx.monStore.UnreconciledPredictions(ctx)
	require.NoError(t, err)
	require.Len(t, open, fx.cfg.HorizonDays)
}

func TestRetrainInvalidatesForecastCache(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	seedRamp(t, store, "btc", 60, 100, 0.5)
	fx := newOrchFixture(t, store)

	fc, err := fx.orch.Forecast(ctx, "btc", 0)
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", fc.ModelVersion)

	_, err = fx.orch.Retrain(ctx, "btc")
	require.NoError(t, err)

	fc, err = fx.orch.Forecast(ctx, "btc", 0)
	require.NoError(t, err)
	require.Equal(t, "v1.0.1", fc.ModelVersion)
}
