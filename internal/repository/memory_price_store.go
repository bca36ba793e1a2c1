package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
)

// MemoryPriceStore keeps price history in process memory. Used as the
// "memory" storage backend for local runs and as the store under test.
type MemoryPriceStore struct {
	mu      sync.RWMutex
	byAsset map[string][]models.PriceObservation
	buckets map[string]struct{} // assetID + bucket RFC3339
}

func NewMemoryPriceStore() *MemoryPriceStore {
	return &MemoryPriceStore{
		byAsset: make(map[string][]models.PriceObservation),
		buckets: make(map[string]struct{}),
	}
}

func (s *MemoryPriceStore) Init(ctx context.Context) error { return nil }

func (s *MemoryPriceStore) Record(ctx context.Context, obs models.PriceObservation) (bool, error) {
	if verr := validateObservation(obs); verr != nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := obs.AssetID + "|" + bucket(obs.Timestamp).Format(time.RFC3339)
	if _, taken := s.buckets[key]; taken {
		return false, nil
	}
	s.buckets[key] = struct{}{}

	obs.Timestamp = obs.Timestamp.UTC()
	list := append(s.byAsset[obs.AssetID], obs)
	sort.Slice(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	s.byAsset[obs.AssetID] = list
	return true, nil
}

func (s *MemoryPriceStore) History(ctx context.Context, assetID string, days int) ([]models.PriceObservation, error) {
	if days <= 0 {
		days = 1
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PriceObservation
	for _, obs := range s.byAsset[assetID] {
		if !obs.Timestamp.Before(cutoff) {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (s *MemoryPriceStore) Latest(ctx context.Context, assetID string) (*models.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byAsset[assetID]
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no observations for %s", models.ErrNotFound, assetID)
	}
	last := list[len(list)-1]
	return &last, nil
}

func (s *MemoryPriceStore) Range(ctx context.Context, assetID string, start, end time.Time) ([]models.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PriceObservation
	for _, obs := range s.byAsset[assetID] {
		if !obs.Timestamp.Before(start.UTC()) && !obs.Timestamp.After(end.UTC()) {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (s *MemoryPriceStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.StoreStats{}
	assets := make([]string, 0, len(s.byAsset))
	for assetID := range s.byAsset {
		assets = append(assets, assetID)
	}
	sort.Strings(assets)

	for _, assetID := range assets {
		list := s.byAsset[assetID]
		if len(list) == 0 {
			continue
		}
		stats.Assets = append(stats.Assets, models.AssetStats{
			AssetID: assetID,
			Count:   int64(len(list)),
			Oldest:  list[0].Timestamp,
			Newest:  list[len(list)-1].Timestamp,
		})
		stats.TotalRecords += int64(len(list))
	}
	stats.AssetsTracked = len(stats.Assets)
	return stats, nil
}

func (s *MemoryPriceStore) Health(ctx context.Context) error { return nil }
func (s *MemoryPriceStore) Close() error                     { return nil }
