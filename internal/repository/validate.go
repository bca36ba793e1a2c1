package repository

import (
	"math"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
)

// validateObservation rejects records that must never reach storage.
// Returns nil when the observation is storable.
func validateObservation(obs models.PriceObservation) *models.ValidationError {
	if obs.AssetID == "" {
		return &models.ValidationError{Field: "asset_id", Reason: "empty"}
	}
	if obs.Timestamp.IsZero() {
		return &models.ValidationError{Field: "timestamp", Reason: "zero value"}
	}
	if obs.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return &models.ValidationError{Field: "timestamp", Reason: "in the future"}
	}
	if obs.Price <= 0 || math.IsNaN(obs.Price) || math.IsInf(obs.Price, 0) {
		return &models.ValidationError{Field: "price", Reason: "not a positive finite number"}
	}
	if obs.Source == "" {
		return &models.ValidationError{Field: "source", Reason: "empty"}
	}
	return nil
}

// bucket truncates a timestamp to its 1-minute dedup bucket in UTC.
func bucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Minute)
}
