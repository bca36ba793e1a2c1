package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
)

// BackfillConfig tunes the simulated history generator. The
// perturbation is an admitted placeholder volatility model, not a
// market calibration.
type BackfillConfig struct {
	Step         time.Duration
	Perturbation float64
	Seed         int64
}

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	AssetID   string `json:"asset_id"`
	Requested int    `json:"requested"`
	Inserted  int    `json:"inserted"`
	Skipped   int    `json:"skipped"`
}

// Backfiller seeds the price store with simulated history so a fresh
// deployment can train before enough live data accumulates. Generated
// observations are tagged as simulated and never overwrite live data.
type Backfiller struct {
	cfg     BackfillConfig
	store   domrepo.PriceStore
	feed    domrepo.PriceFeed
	metrics domrepo.Metrics
	l       *applogger.Logger
	rng     *rand.Rand
}

func NewBackfiller(cfg BackfillConfig, store domrepo.PriceStore, feed domrepo.PriceFeed, metrics domrepo.Metrics, l *applogger.Logger) *Backfiller {
	if cfg.Step <= 0 {
		cfg.Step = 4 * time.Hour
	}
	if cfg.Perturbation <= 0 {
		cfg.Perturbation = 0.05
	}
	if l == nil {
		l = applogger.Nop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Backfiller{cfg: cfg, store: store, feed: feed, metrics: metrics, l: l, rng: rand.New(rand.NewSource(seed))}
}

// Backfill walks backwards from the anchor price at the configured
// step, perturbing each point by a uniform ± fraction. Occupied minute
// buckets are left untouched.
func (b *Backfiller) Backfill(ctx context.Context, assetID string, days int) (*BackfillResult, error) {
	if days <= 0 {
		return nil, &models.ValidationError{Field: "days", Reason: "must be positive"}
	}

	anchor, err := b.anchorPrice(ctx, assetID)
	if err != nil {
		return nil, err
	}

	res := &BackfillResult{AssetID: assetID}
	now := time.Now().UTC()
	price := anchor
	for ts := now; ts.After(now.AddDate(0, 0, -days)); ts = ts.Add(-b.cfg.Step) {
		// random walk backwards with a bounded step
		price = price * (1 + (b.rng.Float64()*2-1)*b.cfg.Perturbation)
		if price <= 0 {
			price = anchor
		}
		res.Requested++

		stored, err := b.store.Record(ctx, models.PriceObservation{
			AssetID:   assetID,
			Timestamp: ts,
			Price:     price,
			Source:    models.SourceSimulated,
		})
		if err != nil {
			return res, err
		}
		if stored {
			res.Inserted++
			if b.metrics != nil {
				b.metrics.RecordObservation(assetID, models.SourceSimulated)
			}
		} else {
			res.Skipped++
		}
	}

	b.l.Info("backfill complete",
		applogger.String("asset", assetID),
		applogger.Int("inserted", res.Inserted),
		applogger.Int("skipped", res.Skipped),
	)
	return res, nil
}

// BackfillAll runs Backfill for each asset, collecting per-asset
// results; a failing asset stops the run.
func (b *Backfiller) BackfillAll(ctx context.Context, assets []string, days int) ([]BackfillResult, error) {
	out := make([]BackfillResult, 0, len(assets))
	for _, asset := range assets {
		res, err := b.Backfill(ctx, asset, days)
		if err != nil {
			return out, fmt.Errorf("backfill %s: %w", asset, err)
		}
		out = append(out, *res)
	}
	return out, nil
}

// anchorPrice prefers the live feed, falling back to the newest stored
// observation.
func (b *Backfiller) anchorPrice(ctx context.Context, assetID string) (float64, error) {
	if b.feed != nil {
		if q, err := b.feed.CurrentPrice(ctx, assetID); err == nil && q.Price > 0 {
			return q.Price, nil
		}
	}
	latest, err := b.store.Latest(ctx, assetID)
	if err != nil {
		return 0, fmt.Errorf("no anchor price for %s: %w", assetID, err)
	}
	return latest.Price, nil
}
