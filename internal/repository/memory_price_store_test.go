package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
)

func obsAt(asset string, ts time.Time, price float64) models.PriceObservation {
	return models.PriceObservation{
		AssetID:   asset,
		Timestamp: ts,
		Price:     price,
		Source:    models.SourcePyth,
	}
}

func TestMemoryStoreRecordAndHistory(t *testing.T) {
	s := NewMemoryPriceStore()
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := s.Record(ctx, obsAt("bitcoin", now.Add(-2*time.Hour), 50000))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Record(ctx, obsAt("bitcoin", now.Add(-1*time.Hour), 50100))
	require.NoError(t, err)
	require.True(t, ok)

	history, err := s.History(ctx, "bitcoin", 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.True(t, history[0].Timestamp.Before(history[1].Timestamp))
}

func TestMemoryStoreMinuteBucketDedup(t *testing.T) {
	s := NewMemoryPriceStore()
	ctx := context.Background()
	ts := time.Date(2026, 8, 30, 12, 5, 10, 0, time.UTC)

	ok, err := s.Record(ctx, obsAt("bitcoin", ts, 50000))
	require.NoError(t, err)
	require.True(t, ok)

	// Same minute, different second: dropped, first record wins.
	ok, err = s.Record(ctx, obsAt("bitcoin", ts.Add(30*time.Second), 50500))
	require.NoError(t, err)
	require.False(t, ok)

	// Next minute is a fresh bucket.
	ok, err = s.Record(ctx, obsAt("bitcoin", ts.Add(time.Minute), 50500))
	require.NoError(t, err)
	require.True(t, ok)

	// Same minute for another asset is unaffected.
	ok, err = s.Record(ctx, obsAt("ethereum", ts, 3000))
	require.NoError(t, err)
	require.True(t, ok)

	latest, err := s.Latest(ctx, "bitcoin")
	require.NoError(t, err)
	require.Equal(t, 50500.0, latest.Price)
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	s := NewMemoryPriceStore()
	ctx := context.Background()
	now := time.Now().UTC()

	cases := []models.PriceObservation{
		obsAt("", now, 100),
		obsAt("bitcoin", time.Time{}, 100),
		obsAt("bitcoin", now.Add(time.Hour), 100), // future
		obsAt("bitcoin", now, 0),
		obsAt("bitcoin", now, -5),
		{AssetID: "bitcoin", Timestamp: now, Price: 100}, // no source
	}
	for _, obs := range cases {
		ok, err := s.Record(ctx, obs)
		require.NoError(t, err)
		require.False(t, ok)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.TotalRecords)
}

func TestMemoryStoreLatestMissing(t *testing.T) {
	s := NewMemoryPriceStore()
	_, err := s.Latest(context.Background(), "dogecoin")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStoreRange(t *testing.T) {
	s := NewMemoryPriceStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, obsAt("bitcoin", base.Add(time.Duration(i)*time.Hour), 100+float64(i)))
		require.NoError(t, err)
	}

	got, err := s.Range(ctx, "bitcoin", base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, 101.0, got[0].Price)
	require.Equal(t, 103.0, got[2].Price)
}

func TestMemoryStoreStats(t *testing.T) {
	s := NewMemoryPriceStore()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Minute)

	for i := 0; i < 3; i++ {
		_, err := s.Record(ctx, obsAt("bitcoin", now.Add(time.Duration(-i)*time.Minute), 100))
		require.NoError(t, err)
	}
	_, err := s.Record(ctx, obsAt("ethereum", now, 3000))
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), stats.TotalRecords)
	require.Equal(t, 2, stats.AssetsTracked)
	require.Equal(t, "bitcoin", stats.Assets[0].AssetID)
	require.Equal(t, int64(3), stats.Assets[0].Count)
}
