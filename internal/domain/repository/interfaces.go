package repository

import (
	"context"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
)

// PriceStore is the durable append-only price history.
type PriceStore interface {
	Init(ctx context.Context) error // ensure tables
	// Record validates and inserts one observation. Returns false when
	// validation fails or another record already occupies the asset's
	// 1-minute bucket; returns an error only for storage failures.
	Record(ctx context.Context, obs models.PriceObservation) (bool, error)
	History(ctx context.Context, assetID string, days int) ([]models.PriceObservation, error)
	Latest(ctx context.Context, assetID string) (*models.PriceObservation, error)
	Range(ctx context.Context, assetID string, start, end time.Time) ([]models.PriceObservation, error)
	Stats(ctx context.Context) (*models.StoreStats, error)
	Health(ctx context.Context) error
	Close() error
}

// ModelRegistry versions trained models per asset.
type ModelRegistry interface {
	Init(ctx context.Context) error
	Register(ctx context.Context, assetID, artifactPath string, metrics models.EvalMetrics, hp models.Hyperparameters) (string, error)
	Versions(ctx context.Context, assetID string) ([]models.ModelVersion, error)
	Latest(ctx context.Context, assetID string) (*models.ModelVersion, error)
	ByVersion(ctx context.Context, version string) (*models.ModelVersion, error)
	RollbackCandidates(ctx context.Context, assetID, excludeVersion string) ([]models.ModelVersion, error)
}

// MonitorStore persists prediction records and performance snapshots.
type MonitorStore interface {
	Init(ctx context.Context) error
	InsertPrediction(ctx context.Context, rec models.PredictionRecord) error
	UnreconciledPredictions(ctx context.Context) ([]models.PredictionRecord, error)
	SetActualPrice(ctx context.Context, id int64, price float64) error
	ReconciledSince(ctx context.Context, version, assetID string, since time.Time) ([]models.PredictionRecord, error)
	UpsertSnapshot(ctx context.Context, snap models.PerformanceSnapshot) error
	Snapshots(ctx context.Context, version, assetID string, days int) ([]models.PerformanceSnapshot, error)
}

// PriceFeed is the live quote source.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, assetID string) (*models.Quote, error)
}

// QuoteStream is a streaming live feed; quotes arrive on a channel until
// the context is cancelled.
type QuoteStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Quote, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// ObservationPublisher pushes observations onto the ingestion bus.
type ObservationPublisher interface {
	Publish(ctx context.Context, obs models.PriceObservation) error
	Close() error
}

// Metrics records operational counters for the dashboard service.
type Metrics interface {
	RecordObservation(assetID, source string)
	RecordDuplicate(assetID string)
	RecordError(kind string)
	RecordLastPrice(assetID string, price float64)
	RecordTraining(assetID string, seconds float64)
	RecordForecast(assetID string)
	RecordReconciliation(n int)
	RecordHealthScore(assetID, version string, score float64)
}
