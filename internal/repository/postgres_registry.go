package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/postgres"
)

var registryDDL = []string{
	`CREATE TABLE IF NOT EXISTS model_versions (
		version         TEXT        NOT NULL,
		asset_id        TEXT        NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		rmse            DOUBLE PRECISION NOT NULL,
		mae             DOUBLE PRECISION NOT NULL,
		mape            DOUBLE PRECISION NOT NULL,
		hyperparameters JSONB       NOT NULL,
		artifact_path   TEXT        NOT NULL,
		PRIMARY KEY (asset_id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_model_versions_created
		ON model_versions (asset_id, created_at DESC)`,
}

// PostgresRegistry versions trained models per asset. Rows are
// immutable once written; the version bump and insert happen in one
// transaction so concurrent registrations cannot produce gaps or
// repeats.
type PostgresRegistry struct {
	client *postgres.Client
	l      *applogger.Logger
}

func NewPostgresRegistry(client *postgres.Client, l *applogger.Logger) *PostgresRegistry {
	if l == nil {
		l = applogger.Nop()
	}
	return &PostgresRegistry{client: client, l: l}
}

func (r *PostgresRegistry) Init(ctx context.Context) error {
	for _, stmt := range registryDDL {
		if _, err := r.client.DB().ExecContext(ctx, stmt); err != nil {
			return &models.StorageError{Op: "init registry", Err: err}
		}
	}
	return nil
}

// modelVersionRow is the scan target; hyperparameters live in JSONB.
type modelVersionRow struct {
	Version      string    `db:"version"`
	AssetID      string    `db:"asset_id"`
	CreatedAt    time.Time `db:"created_at"`
	RMSE         float64   `db:"rmse"`
	MAE          float64   `db:"mae"`
	MAPE         float64   `db:"mape"`
	Hyperparams  []byte    `db:"hyperparameters"`
	ArtifactPath string    `db:"artifact_path"`
}

func (row modelVersionRow) toModel() (*models.ModelVersion, error) {
	var hp models.Hyperparameters
	if len(row.Hyperparams) > 0 {
		if err := json.Unmarshal(row.Hyperparams, &hp); err != nil {
			return nil, &models.StorageError{Op: "decode hyperparameters", Err: err}
		}
	}
	return &models.ModelVersion{
		Version:         row.Version,
		AssetID:         row.AssetID,
		CreatedAt:       row.CreatedAt,
		RMSE:            row.RMSE,
		MAE:             row.MAE,
		MAPE:            row.MAPE,
		Hyperparameters: hp,
		ArtifactPath:    row.ArtifactPath,
	}, nil
}

func (r *PostgresRegistry) Register(ctx context.Context, assetID, artifactPath string, metrics models.EvalMetrics, hp models.Hyperparameters) (string, error) {
	hpJSON, err := json.Marshal(hp)
	if err != nil {
		return "", &models.StorageError{Op: "encode hyperparameters", Err: err}
	}

	tx, err := r.client.DB().BeginTxx(ctx, nil)
	if err != nil {
		return "", &models.StorageError{Op: "begin register", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the asset's newest row so concurrent registrations serialize
	// on the bump.
	var current string
	err = tx.GetContext(ctx, &current,
		`SELECT version FROM model_versions
		 WHERE asset_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1
		 FOR UPDATE`, assetID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", &models.StorageError{Op: "read latest version", Err: err}
	}

	next, err := models.NextVersion(current)
	if err != nil {
		return "", &models.StorageError{Op: "bump version", Err: err}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO model_versions
			(version, asset_id, created_at, rmse, mae, mape, hyperparameters, artifact_path)
		 VALUES ($1, $2, now(), $3, $4, $5, $6, $7)`,
		next, assetID, metrics.RMSE, metrics.MAE, metrics.MAPE, hpJSON, artifactPath)
	if err != nil {
		return "", &models.StorageError{Op: "insert model version", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return "", &models.StorageError{Op: "commit register", Err: err}
	}

	r.l.Info("model registered",
		applogger.String("asset", assetID),
		applogger.String("version", next),
		applogger.Float64("mape", metrics.MAPE),
	)
	return next, nil
}

func (r *PostgresRegistry) Versions(ctx context.Context, assetID string) ([]models.ModelVersion, error) {
	q := `SELECT version, asset_id, created_at, rmse, mae, mape, hyperparameters, artifact_path
	      FROM model_versions`
	args := []any{}
	if assetID != "" {
		q += ` WHERE asset_id = $1`
		args = append(args, assetID)
	}
	q += ` ORDER BY created_at DESC`
	return r.queryVersions(ctx, q, args...)
}

func (r *PostgresRegistry) Latest(ctx context.Context, assetID string) (*models.ModelVersion, error) {
	rows, err := r.queryVersions(ctx,
		`SELECT version, asset_id, created_at, rmse, mae, mape, hyperparameters, artifact_path
		 FROM model_versions
		 WHERE asset_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, assetID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no models for %s", models.ErrNotFound, assetID)
	}
	return &rows[0], nil
}

// ByVersion resolves a version string. Version strings are scoped per
// asset, so a collision across assets resolves to the most recently
// created row.
func (r *PostgresRegistry) ByVersion(ctx context.Context, version string) (*models.ModelVersion, error) {
	rows, err := r.queryVersions(ctx,
		`SELECT version, asset_id, created_at, rmse, mae, mape, hyperparameters, artifact_path
		 FROM model_versions
		 WHERE version = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, version)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: version %s", models.ErrNotFound, version)
	}
	return &rows[0], nil
}

func (r *PostgresRegistry) RollbackCandidates(ctx context.Context, assetID, excludeVersion string) ([]models.ModelVersion, error) {
	return r.queryVersions(ctx,
		`SELECT version, asset_id, created_at, rmse, mae, mape, hyperparameters, artifact_path
		 FROM model_versions
		 WHERE asset_id = $1 AND version <> $2
		 ORDER BY created_at DESC`, assetID, excludeVersion)
}

func (r *PostgresRegistry) queryVersions(ctx context.Context, q string, args ...any) ([]models.ModelVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.client.QueryTimeout())
	defer cancel()

	var rows []modelVersionRow
	if err := sqlx.SelectContext(ctx, r.client.DB(), &rows, q, args...); err != nil {
		return nil, &models.StorageError{Op: "query model versions", Err: err}
	}
	out := make([]models.ModelVersion, 0, len(rows))
	for _, row := range rows {
		mv, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *mv)
	}
	return out, nil
}
