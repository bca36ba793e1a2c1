package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/repository"
)

type fakePriceFeed struct {
	price float64
	err   error
}

func (f *fakePriceFeed) CurrentPrice(_ context.Context, assetID string) (*models.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Quote{AssetID: assetID, Price: f.price, AsOf: time.Now().UTC()}, nil
}

func TestBackfillGeneratesSimulatedHistory(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	bf := NewBackfiller(BackfillConfig{Step: 4 * time.Hour, Perturbation: 0.05, Seed: 1},
		store, &fakePriceFeed{price: 100}, nil, nil)

	res, err := bf.Backfill(ctx, "btc", 2)
	require.NoError(t, err)
	require.Equal(t, "btc", res.AssetID)
	require.Equal(t, 12, res.Requested)
	require.Equal(t, 12, res.Inserted)
	require.Zero(t, res.Skipped)

	history, err := store.History(ctx, "btc", 3)
	require.NoError(t, err)
	require.Len(t, history, 12)
	for _, obs := range history {
		require.True(t, obs.Simulated())
		require.Greater(t, obs.Price, 0.0)
		// a bounded walk around the anchor stays in a plausible band
		require.Greater(t, obs.Price, 40.0)
		require.Less(t, obs.Price, 200.0)
	}
}

func TestBackfillAnchorsOnStoredPrice(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	ok, err := store.Record(ctx, models.PriceObservation{
		AssetID:   "eth",
		Timestamp: time.Now().UTC().Add(-2 * time.Hour),
		Price:     2000,
		Source:    models.SourcePyth,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// feed unavailable, so the newest stored observation anchors the walk
	bf := NewBackfiller(BackfillConfig{Seed: 7}, store, &fakePriceFeed{err: context.DeadlineExceeded}, nil, nil)
	res, err := bf.Backfill(ctx, "eth", 1)
	require.NoError(t, err)
	require.Equal(t, res.Requested, res.Inserted+res.Skipped)

	latest, err := store.Latest(ctx, "eth")
	require.NoError(t, err)
	require.InDelta(t, 2000.0, latest.Price, 400)
}

func TestBackfillWithoutAnchorFails(t *testing.T) {
	bf := NewBackfiller(BackfillConfig{Seed: 7}, repository.NewMemoryPriceStore(), nil, nil, nil)
	_, err := bf.Backfill(context.Background(), "btc", 1)
	require.Error(t, err)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestBackfillRejectsNonPositiveDays(t *testing.T) {
	bf := NewBackfiller(BackfillConfig{}, repository.NewMemoryPriceStore(), &fakePriceFeed{price: 1}, nil, nil)
	_, err := bf.Backfill(context.Background(), "btc", 0)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestBackfillAll(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryPriceStore()
	bf := NewBackfiller(BackfillConfig{Seed: 3}, store, &fakePriceFeed{price: 50}, nil, nil)

	results, err := bf.BackfillAll(ctx, []string{"btc", "eth"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.Positive(t, res.Inserted)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.AssetsTracked)
}
