package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/postgres"
)

var monitorDDL = []string{
	`CREATE TABLE IF NOT EXISTS prediction_records (
		id              BIGSERIAL PRIMARY KEY,
		model_version   TEXT        NOT NULL,
		asset_id        TEXT        NOT NULL,
		target_date     TIMESTAMPTZ NOT NULL,
		predicted_price DOUBLE PRECISION NOT NULL,
		actual_price    DOUBLE PRECISION,
		made_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prediction_records_open
		ON prediction_records (asset_id, target_date) WHERE actual_price IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_prediction_records_version
		ON prediction_records (model_version, asset_id, target_date)`,
	`CREATE TABLE IF NOT EXISTS performance_snapshots (
		model_version TEXT NOT NULL,
		asset_id      TEXT NOT NULL,
		metric_date   DATE NOT NULL,
		period_days   INTEGER NOT NULL,
		rmse          DOUBLE PRECISION NOT NULL,
		mae           DOUBLE PRECISION NOT NULL,
		mape          DOUBLE PRECISION NOT NULL,
		sample_size   INTEGER NOT NULL,
		PRIMARY KEY (model_version, asset_id, metric_date, period_days)
	)`,
}

// PostgresMonitorStore persists prediction records and rolling-accuracy
// snapshots. Prediction rows are written once and mutated exactly once
// when reconciliation fills the realized price.
type PostgresMonitorStore struct {
	client *postgres.Client
	l      *applogger.Logger
}

func NewPostgresMonitorStore(client *postgres.Client, l *applogger.Logger) *PostgresMonitorStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &PostgresMonitorStore{client: client, l: l}
}

func (s *PostgresMonitorStore) Init(ctx context.Context) error {
	for _, stmt := range monitorDDL {
		if _, err := s.client.DB().ExecContext(ctx, stmt); err != nil {
			return &models.StorageError{Op: "init monitor", Err: err}
		}
	}
	return nil
}

func (s *PostgresMonitorStore) InsertPrediction(ctx context.Context, rec models.PredictionRecord) error {
	madeAt := rec.MadeAt
	if madeAt.IsZero() {
		madeAt = time.Now().UTC()
	}
	_, err := s.client.DB().ExecContext(ctx,
		`INSERT INTO prediction_records
			(model_version, asset_id, target_date, predicted_price, made_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ModelVersion, rec.AssetID, rec.TargetDate.UTC(), rec.PredictedPrice, madeAt)
	if err != nil {
		return &models.StorageError{Op: "insert prediction", Err: err}
	}
	return nil
}

func (s *PostgresMonitorStore) UnreconciledPredictions(ctx context.Context) ([]models.PredictionRecord, error) {
	return s.queryPredictions(ctx,
		`SELECT id, model_version, asset_id, target_date, predicted_price, actual_price, made_at
		 FROM prediction_records
		 WHERE actual_price IS NULL
		 ORDER BY target_date ASC`)
}

func (s *PostgresMonitorStore) SetActualPrice(ctx context.Context, id int64, price float64) error {
	res, err := s.client.DB().ExecContext(ctx,
		`UPDATE prediction_records
		 SET actual_price = $2
		 WHERE id = $1 AND actual_price IS NULL`,
		id, price)
	if err != nil {
		return &models.StorageError{Op: "set actual price", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresMonitorStore) ReconciledSince(ctx context.Context, version, assetID string, since time.Time) ([]models.PredictionRecord, error) {
	return s.queryPredictions(ctx,
		`SELECT id, model_version, asset_id, target_date, predicted_price, actual_price, made_at
		 FROM prediction_records
		 WHERE model_version = $1 AND asset_id = $2
		   AND actual_price IS NOT NULL
		   AND target_date >= $3
		 ORDER BY target_date ASC`,
		version, assetID, since.UTC())
}

func (s *PostgresMonitorStore) UpsertSnapshot(ctx context.Context, snap models.PerformanceSnapshot) error {
	_, err := s.client.DB().ExecContext(ctx,
		`INSERT INTO performance_snapshots
			(model_version, asset_id, metric_date, period_days, rmse, mae, mape, sample_size)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (model_version, asset_id, metric_date, period_days)
		 DO UPDATE SET rmse = EXCLUDED.rmse, mae = EXCLUDED.mae,
			mape = EXCLUDED.mape, sample_size = EXCLUDED.sample_size`,
		snap.ModelVersion, snap.AssetID, snap.MetricDate.UTC(), snap.PeriodDays,
		snap.RMSE, snap.MAE, snap.MAPE, snap.SampleSize)
	if err != nil {
		return &models.StorageError{Op: "upsert snapshot", Err: err}
	}
	return nil
}

func (s *PostgresMonitorStore) Snapshots(ctx context.Context, version, assetID string, days int) ([]models.PerformanceSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.client.QueryTimeout())
	defer cancel()

	var out []models.PerformanceSnapshot
	err := sqlx.SelectContext(ctx, s.client.DB(), &out,
		`SELECT model_version, asset_id, metric_date, period_days, rmse, mae, mape, sample_size
		 FROM performance_snapshots
		 WHERE model_version = $1 AND asset_id = $2
		   AND metric_date >= $3
		 ORDER BY metric_date ASC`,
		version, assetID, time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return nil, &models.StorageError{Op: "query snapshots", Err: err}
	}
	return out, nil
}

func (s *PostgresMonitorStore) queryPredictions(ctx context.Context, q string, args ...any) ([]models.PredictionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.client.QueryTimeout())
	defer cancel()

	var out []models.PredictionRecord
	if err := sqlx.SelectContext(ctx, s.client.DB(), &out, q, args...); err != nil {
		return nil, &models.StorageError{Op: "query predictions", Err: err}
	}
	return out, nil
}
