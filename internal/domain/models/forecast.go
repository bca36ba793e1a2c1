package models

import "time"

// Forecast is a multi-step-ahead price forecast with heuristic
// confidence bands. Lower/Upper are ±1.96 × (uncertainty scale × σ of
// the forecast path), an approximation rather than a statistical
// prediction interval.
type Forecast struct {
	AssetID      string      `json:"asset_id"`
	ModelVersion string      `json:"model_version"`
	Predictions  []float64   `json:"predictions"`
	Lower        []float64   `json:"lower"`
	Upper        []float64   `json:"upper"`
	Dates        []time.Time `json:"dates"`
	GeneratedAt  time.Time   `json:"generated_at"`
	HorizonDays  int         `json:"horizon_days"`
}
