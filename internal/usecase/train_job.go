package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/queue"
)

// TrainMessageType identifies queued training requests.
const TrainMessageType = "model.train"

// TrainPayload is the body of a queued training request.
type TrainPayload struct {
	AssetID string `json:"asset_id"`
	Force   bool   `json:"force"`
}

// TrainJob runs model training off the request path. HTTP handlers
// enqueue, this job consumes.
type TrainJob struct {
	orch *Orchestrator
	l    *applogger.Logger
}

func NewTrainJob(orch *Orchestrator, l *applogger.Logger) *TrainJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &TrainJob{orch: orch, l: l}
}

func (j *TrainJob) Name() string { return "model-train" }

func (j *TrainJob) Type() string { return TrainMessageType }

func (j *TrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[TrainPayload](payload)
	if err != nil {
		return fmt.Errorf("parse train payload: %w", err)
	}
	if p.AssetID == "" {
		return &models.ValidationError{Field: "asset_id", Reason: "must not be empty"}
	}

	if p.Force {
		version, err := j.orch.Retrain(ctx, p.AssetID)
		if err != nil {
			return err
		}
		j.l.Info("queued retrain complete",
			applogger.String("asset", p.AssetID),
			applogger.String("version", version),
		)
		return nil
	}

	_, version, err := j.orch.GetOrTrain(ctx, p.AssetID)
	if err != nil {
		// another worker already holds the asset's training slot
		if errors.Is(err, models.ErrTrainingInProgress) {
			j.l.Debug("training already in progress", applogger.String("asset", p.AssetID))
			return nil
		}
		return err
	}
	j.l.Info("queued training complete",
		applogger.String("asset", p.AssetID),
		applogger.String("version", version),
	)
	return nil
}

var _ queue.Job = (*TrainJob)(nil)
