package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means too little history to train or forecast.
	ErrInsufficientData = errors.New("insufficient historical data")

	// ErrNotFound means an unknown version or asset on lookup.
	ErrNotFound = errors.New("not found")

	// ErrNotTrained means a forecast was requested from an untrained predictor.
	ErrNotTrained = errors.New("model not trained or loaded")

	// ErrTrainingInProgress means a training run for the asset is already active.
	ErrTrainingInProgress = errors.New("training in progress")
)

// ValidationError describes malformed or out-of-range input. The
// observation is dropped, not stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TrainingError is a numerical failure during fitting. The previous
// trained version, if any, remains usable.
type TrainingError struct {
	AssetID string
	Err     error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training failed for %s: %v", e.AssetID, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// StorageError means the durable store is unavailable or corrupt.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
