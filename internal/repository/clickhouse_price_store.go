package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/clickhouse"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
)

var priceHistoryDDL = []string{
	`CREATE TABLE IF NOT EXISTS price_history (
		asset_id   LowCardinality(String),
		ts         DateTime64(3, 'UTC'),
		price      Float64,
		volume_24h Nullable(Float64),
		market_cap Nullable(Float64),
		source     LowCardinality(String)
	) ENGINE = MergeTree()
	ORDER BY (asset_id, ts)`,
}

// ClickHousePriceStore is the durable append-only price history.
// Observations are immutable; the first record in an asset's 1-minute
// bucket wins and later arrivals for the same bucket are dropped.
type ClickHousePriceStore struct {
	client *clickhouse.Client
	l      *applogger.Logger
}

func NewClickHousePriceStore(client *clickhouse.Client, l *applogger.Logger) *ClickHousePriceStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHousePriceStore{client: client, l: l}
}

func (s *ClickHousePriceStore) Init(ctx context.Context) error {
	if err := s.client.InitSchema(ctx, priceHistoryDDL); err != nil {
		return &models.StorageError{Op: "init price history", Err: err}
	}
	return nil
}

func (s *ClickHousePriceStore) Record(ctx context.Context, obs models.PriceObservation) (bool, error) {
	if verr := validateObservation(obs); verr != nil {
		s.l.Debug("observation rejected",
			applogger.String("asset", obs.AssetID),
			applogger.String("reason", verr.Error()),
		)
		return false, nil
	}

	// Occupied-bucket check first; MergeTree has no unique constraint to
	// lean on, and concurrent writers for one asset are serialized
	// upstream by the ingest pipeline.
	b := bucket(obs.Timestamp)
	var count uint64
	err := s.client.DB().QueryRowContext(ctx,
		`SELECT count() FROM price_history WHERE asset_id = ? AND ts >= ? AND ts < ?`,
		obs.AssetID, b, b.Add(time.Minute),
	).Scan(&count)
	if err != nil {
		return false, &models.StorageError{Op: "check bucket", Err: err}
	}
	if count > 0 {
		return false, nil
	}

	_, err = s.client.DB().ExecContext(ctx,
		`INSERT INTO price_history (asset_id, ts, price, volume_24h, market_cap, source)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		obs.AssetID, obs.Timestamp.UTC(), obs.Price, obs.Volume24h, obs.MarketCap, obs.Source,
	)
	if err != nil {
		return false, &models.StorageError{Op: "insert observation", Err: err}
	}
	return true, nil
}

func (s *ClickHousePriceStore) History(ctx context.Context, assetID string, days int) ([]models.PriceObservation, error) {
	if days <= 0 {
		days = 1
	}
	return s.query(ctx,
		`SELECT asset_id, ts, price, volume_24h, market_cap, source
		 FROM price_history
		 WHERE asset_id = ? AND ts >= ?
		 ORDER BY ts ASC`,
		assetID, time.Now().UTC().AddDate(0, 0, -days),
	)
}

func (s *ClickHousePriceStore) Latest(ctx context.Context, assetID string) (*models.PriceObservation, error) {
	rows, err := s.query(ctx,
		`SELECT asset_id, ts, price, volume_24h, market_cap, source
		 FROM price_history
		 WHERE asset_id = ?
		 ORDER BY ts DESC
		 LIMIT 1`,
		assetID,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no observations for %s", models.ErrNotFound, assetID)
	}
	return &rows[0], nil
}

func (s *ClickHousePriceStore) Range(ctx context.Context, assetID string, start, end time.Time) ([]models.PriceObservation, error) {
	return s.query(ctx,
		`SELECT asset_id, ts, price, volume_24h, market_cap, source
		 FROM price_history
		 WHERE asset_id = ? AND ts >= ? AND ts <= ?
		 ORDER BY ts ASC`,
		assetID, start.UTC(), end.UTC(),
	)
}

func (s *ClickHousePriceStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	rows, err := s.client.DB().QueryContext(ctx,
		`SELECT asset_id, count() AS cnt, min(ts) AS oldest, max(ts) AS newest
		 FROM price_history
		 GROUP BY asset_id
		 ORDER BY asset_id`,
	)
	if err != nil {
		return nil, &models.StorageError{Op: "store stats", Err: err}
	}
	defer rows.Close()

	stats := &models.StoreStats{}
	for rows.Next() {
		var a models.AssetStats
		var cnt uint64
		if err := rows.Scan(&a.AssetID, &cnt, &a.Oldest, &a.Newest); err != nil {
			return nil, &models.StorageError{Op: "scan stats", Err: err}
		}
		a.Count = int64(cnt)
		stats.Assets = append(stats.Assets, a)
		stats.TotalRecords += a.Count
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "store stats", Err: err}
	}
	stats.AssetsTracked = len(stats.Assets)
	return stats, nil
}

func (s *ClickHousePriceStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *ClickHousePriceStore) Close() error {
	return s.client.Close()
}

func (s *ClickHousePriceStore) query(ctx context.Context, q string, args ...any) ([]models.PriceObservation, error) {
	rows, err := s.client.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "query price history", Err: err}
	}
	defer rows.Close()

	var out []models.PriceObservation
	for rows.Next() {
		var obs models.PriceObservation
		if err := rows.Scan(&obs.AssetID, &obs.Timestamp, &obs.Price, &obs.Volume24h, &obs.MarketCap, &obs.Source); err != nil {
			return nil, &models.StorageError{Op: "scan observation", Err: err}
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "query price history", Err: err}
	}
	return out, nil
}
