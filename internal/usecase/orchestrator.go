package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/forecast"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/cache"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
)

// entry pairs a trained predictor with its registry version. Entries
// are replaced wholesale on retrain or rollback, never mutated.
type entry struct {
	pred    *forecast.Predictor
	version string
}

// Orchestrator memoizes one trained predictor per asset and owns the
// train/load/register lifecycle. Forecast responses are additionally
// cached with a TTL so repeated dashboard loads do not re-run
// inference.
type Orchestrator struct {
	cfg      forecast.Config
	store    domrepo.PriceStore
	registry domrepo.ModelRegistry
	monitor  *ModelMonitor
	fcCache  cache.Service
	cacheTTL time.Duration
	metrics  domrepo.Metrics
	l        *applogger.Logger

	mu         sync.Mutex
	predictors map[string]*entry
	training   map[string]bool
}

func NewOrchestrator(cfg forecast.Config, store domrepo.PriceStore, registry domrepo.ModelRegistry, monitor *ModelMonitor, fcCache cache.Service, cacheTTL time.Duration, metrics domrepo.Metrics, l *applogger.Logger) *Orchestrator {
	if l == nil {
		l = applogger.Nop()
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		monitor:    monitor,
		fcCache:    fcCache,
		cacheTTL:   cacheTTL,
		metrics:    metrics,
		l:          l,
		predictors: make(map[string]*entry),
		training:   make(map[string]bool),
	}
}

// GetOrTrain returns the cached predictor for an asset, loading the
// most recent registered artifact if one exists, or training from
// scratch otherwise. A request for an asset already being trained is
// rejected with ErrTrainingInProgress rather than starting a second
// run.
func (o *Orchestrator) GetOrTrain(ctx context.Context, assetID string) (*forecast.Predictor, string, error) {
	o.mu.Lock()
	if e, ok := o.predictors[assetID]; ok {
		o.mu.Unlock()
		return e.pred, e.version, nil
	}
	if o.training[assetID] {
		o.mu.Unlock()
		return nil, "", fmt.Errorf("%w: %s", models.ErrTrainingInProgress, assetID)
	}
	o.training[assetID] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.training, assetID)
		o.mu.Unlock()
	}()

	// Prefer a previously registered model over retraining.
	if e, err := o.loadLatest(ctx, assetID); err == nil {
		o.put(assetID, e)
		return e.pred, e.version, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		o.l.Warn("stored model unusable, retraining",
			applogger.String("asset", assetID),
			applogger.Error(err),
		)
	}

	e, err := o.train(ctx, assetID)
	if err != nil {
		return nil, "", err
	}
	o.put(assetID, e)
	return e.pred, e.version, nil
}

// Retrain forces a fresh training run and swaps the cached predictor
// wholesale on success. The previous version stays registered and
// loadable.
func (o *Orchestrator) Retrain(ctx context.Context, assetID string) (string, error) {
	o.mu.Lock()
	if o.training[assetID] {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %s", models.ErrTrainingInProgress, assetID)
	}
	o.training[assetID] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.training, assetID)
		o.mu.Unlock()
	}()

	e, err := o.train(ctx, assetID)
	if err != nil {
		return "", err
	}
	o.put(assetID, e)
	o.invalidateForecasts(ctx, assetID)
	return e.version, nil
}

// Rollback loads the artifact of a previously registered version and
// makes it the active predictor for its asset. Unknown versions return
// a structured failure result, not an error.
func (o *Orchestrator) Rollback(ctx context.Context, version string) (*models.RollbackResult, error) {
	mv, err := o.registry.ByVersion(ctx, version)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.RollbackResult{Success: false, Error: fmt.Sprintf("unknown version %s", version)}, nil
		}
		return nil, err
	}

	pred, err := forecast.LoadPredictor(o.cfg, mv.AssetID, mv.ArtifactPath, o.store, o.l)
	if err != nil {
		return &models.RollbackResult{Success: false, Error: fmt.Sprintf("artifact unavailable: %v", err)}, nil
	}
	if pred.Degraded() {
		return &models.RollbackResult{Success: false, Error: "artifact missing scaler metadata"}, nil
	}

	o.put(mv.AssetID, &entry{pred: pred, version: mv.Version})
	o.invalidateForecasts(ctx, mv.AssetID)
	o.l.Info("rolled back model",
		applogger.String("asset", mv.AssetID),
		applogger.String("version", mv.Version),
	)
	return &models.RollbackResult{Success: true, Model: mv}, nil
}

// Forecast serves a cached forecast when fresh, otherwise runs
// inference and records each predicted point with the monitor.
func (o *Orchestrator) Forecast(ctx context.Context, assetID string, horizon int) (*models.Forecast, error) {
	if horizon <= 0 {
		horizon = o.cfg.HorizonDays
	}
	key := forecastCacheKey(assetID, horizon)

	if o.fcCache != nil {
		var cached models.Forecast
		if err := o.fcCache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	pred, version, err := o.GetOrTrain(ctx, assetID)
	if err != nil {
		return nil, err
	}

	fc, err := pred.Forecast(ctx, horizon)
	if err != nil {
		return nil, err
	}
	fc.ModelVersion = version

	if o.monitor != nil {
		for i, date := range fc.Dates {
			if err := o.monitor.RecordPrediction(ctx, version, assetID, date, fc.Predictions[i]); err != nil {
				o.l.Warn("prediction record failed",
					applogger.String("asset", assetID),
					applogger.Error(err),
				)
				break
			}
		}
	}

	if o.fcCache != nil {
		if err := o.fcCache.Set(ctx, key, fc, o.cacheTTL); err != nil {
			o.l.Warn("forecast cache write failed", applogger.Error(err))
		}
	}
	if o.metrics != nil {
		o.metrics.RecordForecast(assetID)
	}
	return fc, nil
}

// Training reports whether the asset currently has a training run.
func (o *Orchestrator) Training(assetID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.training[assetID]
}

func (o *Orchestrator) put(assetID string, e *entry) {
	o.mu.Lock()
	o.predictors[assetID] = e
	o.mu.Unlock()
}

func (o *Orchestrator) loadLatest(ctx context.Context, assetID string) (*entry, error) {
	mv, err := o.registry.Latest(ctx, assetID)
	if err != nil {
		return nil, err
	}
	pred, err := forecast.LoadPredictor(o.cfg, assetID, mv.ArtifactPath, o.store, o.l)
	if err != nil {
		return nil, err
	}
	if pred.Degraded() {
		return nil, fmt.Errorf("artifact %s missing scaler metadata", mv.ArtifactPath)
	}
	o.l.Info("loaded registered model",
		applogger.String("asset", assetID),
		applogger.String("version", mv.Version),
	)
	return &entry{pred: pred, version: mv.Version}, nil
}

func (o *Orchestrator) train(ctx context.Context, assetID string) (*entry, error) {
	start := time.Now()
	pred := forecast.NewPredictor(o.cfg, assetID, o.store, o.l)
	if _, err := pred.Fit(ctx); err != nil {
		return nil, err
	}
	meta := pred.Metadata()

	// The training flag guarantees a single trainer per asset, so the
	// upcoming version can be derived up front and the artifact written
	// to its final path before the registry row is created.
	expected, err := o.nextVersion(ctx, assetID)
	if err != nil {
		return nil, err
	}
	path := forecast.ArtifactPath(o.cfg.ArtifactDir, assetID, expected)
	if err := pred.Save(path); err != nil {
		return nil, err
	}

	version, err := o.registry.Register(ctx, assetID, path, meta.Metrics, meta.Hyperparameters)
	if err != nil {
		return nil, err
	}
	if version != expected {
		o.l.Warn("registry assigned unexpected version",
			applogger.String("asset", assetID),
			applogger.String("expected", expected),
			applogger.String("assigned", version),
		)
	}

	if o.metrics != nil {
		o.metrics.RecordTraining(assetID, time.Since(start).Seconds())
	}
	return &entry{pred: pred, version: version}, nil
}

func (o *Orchestrator) nextVersion(ctx context.Context, assetID string) (string, error) {
	mv, err := o.registry.Latest(ctx, assetID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.InitialVersion, nil
		}
		return "", err
	}
	return models.NextVersion(mv.Version)
}

func (o *Orchestrator) invalidateForecasts(ctx context.Context, assetID string) {
	if o.fcCache == nil {
		return
	}
	if err := o.fcCache.DeleteByPattern(ctx, fmt.Sprintf("forecast:%s:*", assetID)); err != nil {
		o.l.Warn("forecast cache invalidation failed", applogger.Error(err))
	}
}

func forecastCacheKey(assetID string, horizon int) string {
	return fmt.Sprintf("forecast:%s:%d", assetID, horizon)
}
