package models

import "time"

// Observation sources.
const (
	SourcePyth      = "pyth"
	SourceSimulated = "pyth_simulated"
)

// PriceObservation is a single historical price record for an asset.
// Observations are immutable once stored; at most one is kept per
// (asset, 1-minute bucket).
type PriceObservation struct {
	AssetID   string    `json:"asset_id" db:"asset_id"`
	Timestamp time.Time `json:"timestamp" db:"ts"`
	Price     float64   `json:"price" db:"price"`
	Volume24h *float64  `json:"volume_24h,omitempty" db:"volume_24h"`
	MarketCap *float64  `json:"market_cap,omitempty" db:"market_cap"`
	Source    string    `json:"source" db:"source"`
}

// Simulated reports whether the observation came from backfill rather
// than a live feed.
func (o PriceObservation) Simulated() bool {
	return o.Source == SourceSimulated
}

// Quote is an instantaneous price from the live feed.
type Quote struct {
	AssetID   string    `json:"asset_id"`
	Price     float64   `json:"price"`
	EMAPrice  float64   `json:"ema_price"`
	Volume24h float64   `json:"volume_24h"`
	MarketCap float64   `json:"market_cap"`
	AsOf      time.Time `json:"as_of"`
}

// Change24h approximates the 24h percentage change from the EMA-vs-spot
// delta. The feed has no true 24h reference, so this is a declared
// approximation carried over from the ingestion source.
func (q Quote) Change24h() float64 {
	if q.EMAPrice <= 0 {
		return 0
	}
	return (q.Price - q.EMAPrice) / q.EMAPrice * 100
}

// AssetStats summarizes stored history for one asset.
type AssetStats struct {
	AssetID string    `json:"asset_id"`
	Count   int64     `json:"record_count"`
	Oldest  time.Time `json:"oldest"`
	Newest  time.Time `json:"newest"`
}

// StoreStats summarizes the whole price store.
type StoreStats struct {
	TotalRecords  int64        `json:"total_records"`
	AssetsTracked int          `json:"assets_tracked"`
	Assets        []AssetStats `json:"assets"`
}
