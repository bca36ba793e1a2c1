package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InitialVersion is assigned to the first registered model of an asset.
const InitialVersion = "v1.0.0"

// Hyperparameters is the fixed-schema training configuration persisted
// with each model version. An explicit struct, not a loose map, so the
// training and loading paths cannot drift.
type Hyperparameters struct {
	SequenceLength  int     `json:"sequence_length"`
	HorizonDays     int     `json:"horizon_days"`
	HiddenUnits     int     `json:"hidden_units"`
	DenseUnits      int     `json:"dense_units"`
	DropoutRate     float64 `json:"dropout_rate"`
	LearningRate    float64 `json:"learning_rate"`
	Epochs          int     `json:"epochs"`
	Patience        int     `json:"patience"`
	ValidationSplit float64 `json:"validation_split"`
	BatchSize       int     `json:"batch_size"`
}

// EvalMetrics holds the standard regression error metrics.
type EvalMetrics struct {
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	MAPE float64 `json:"mape"` // 0-100 percentage
}

// ModelVersion is an immutable registry row describing one trained model.
type ModelVersion struct {
	Version         string          `json:"version" db:"version"`
	AssetID         string          `json:"asset_id" db:"asset_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	RMSE            float64         `json:"rmse" db:"rmse"`
	MAE             float64         `json:"mae" db:"mae"`
	MAPE            float64         `json:"mape" db:"mape"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	ArtifactPath    string          `json:"model_artifact_path" db:"artifact_path"`
}

// PredictionRecord tracks one forecast point until it is reconciled
// against a realized price.
type PredictionRecord struct {
	ID             int64      `json:"id" db:"id"`
	ModelVersion   string     `json:"model_version" db:"model_version"`
	AssetID        string     `json:"asset_id" db:"asset_id"`
	TargetDate     time.Time  `json:"target_date" db:"target_date"`
	PredictedPrice float64    `json:"predicted_price" db:"predicted_price"`
	ActualPrice    *float64   `json:"actual_price,omitempty" db:"actual_price"`
	MadeAt         time.Time  `json:"made_at" db:"made_at"`
}

// PerformanceSnapshot is a rolling-accuracy row, one per
// (version, asset, metric date, trailing window).
type PerformanceSnapshot struct {
	ModelVersion string    `json:"model_version" db:"model_version"`
	AssetID      string    `json:"asset_id" db:"asset_id"`
	MetricDate   time.Time `json:"metric_date" db:"metric_date"`
	PeriodDays   int       `json:"period_days" db:"period_days"`
	RMSE         float64   `json:"rmse" db:"rmse"`
	MAE          float64   `json:"mae" db:"mae"`
	MAPE         float64   `json:"mape" db:"mape"`
	SampleSize   int       `json:"sample_size" db:"sample_size"`
}

// DegradationReport is the outcome of comparing recent accuracy against
// a longer baseline.
type DegradationReport struct {
	Degraded         bool    `json:"degraded"`
	Reason           string  `json:"reason,omitempty"`
	RecentMAPE       float64 `json:"recent_mape"`
	BaselineMAPE     float64 `json:"baseline_mape"`
	DegradationRatio float64 `json:"degradation_ratio"`
	ThresholdHit     bool    `json:"threshold_exceeded"`
	RatioHit         bool    `json:"relative_degradation"`
}

// RetrainAdvice is the retrain recommendation for a model version.
type RetrainAdvice struct {
	ShouldRetrain bool    `json:"should_retrain"`
	Reason        string  `json:"reason"`
	CurrentMAPE   float64 `json:"current_mape,omitempty"`
}

// HealthReport combines score, degradation and recommendation for one
// registered model.
type HealthReport struct {
	Version        string  `json:"version"`
	AssetID        string  `json:"asset_id"`
	Score          float64 `json:"score"`
	Degraded       bool    `json:"degraded"`
	Recommendation string  `json:"recommendation"`
}

// RollbackResult reports the outcome of a registry rollback.
type RollbackResult struct {
	Success bool          `json:"success"`
	Model   *ModelVersion `json:"model,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// NextVersion bumps the patch component of a semantic version string.
// An empty current version yields InitialVersion.
func NextVersion(current string) (string, error) {
	if current == "" {
		return InitialVersion, nil
	}
	parts := strings.Split(strings.TrimPrefix(current, "v"), ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed version %q", current)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("malformed version %q: %w", current, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("malformed version %q: %w", current, err)
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", fmt.Errorf("malformed version %q: %w", current, err)
	}
	return fmt.Sprintf("v%d.%d.%d", major, minor, patch+1), nil
}
