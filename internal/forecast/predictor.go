package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
)

// Config holds the training and forecasting parameters for one predictor.
type Config struct {
	ArtifactDir      string
	SequenceLength   int
	HorizonDays      int
	TrainWindowDays  int
	HiddenUnits      int
	DenseUnits       int
	DropoutRate      float64
	LearningRate     float64
	Epochs           int
	Patience         int
	ValidationSplit  float64
	BatchSize        int
	UncertaintyScale float64
	Seed             int64
}

// Hyperparameters converts the config into the persisted fixed schema.
func (c Config) Hyperparameters() models.Hyperparameters {
	return models.Hyperparameters{
		SequenceLength:  c.SequenceLength,
		HorizonDays:     c.HorizonDays,
		HiddenUnits:     c.HiddenUnits,
		DenseUnits:      c.DenseUnits,
		DropoutRate:     c.DropoutRate,
		LearningRate:    c.LearningRate,
		Epochs:          c.Epochs,
		Patience:        c.Patience,
		ValidationSplit: c.ValidationSplit,
		BatchSize:       c.BatchSize,
	}
}

// Metadata is the persisted training record for one artifact.
type Metadata struct {
	AssetID         string                 `json:"asset_id"`
	TrainedAt       time.Time              `json:"trained_at"`
	EpochsTrained   int                    `json:"epochs_trained"`
	FinalLoss       float64                `json:"final_loss"`
	FinalValLoss    float64                `json:"final_val_loss"`
	BestValLoss     float64                `json:"best_val_loss"`
	Metrics         models.EvalMetrics     `json:"metrics"`
	Hyperparameters models.Hyperparameters `json:"hyperparameters"`
	Scaler          ScalerParams           `json:"scaler"`
}

// Predictor trains and serves the sequence model for one asset.
// Lifecycle: Untrained → Training → Trained; a retrain swaps the whole
// instance rather than mutating it in place.
type Predictor struct {
	cfg     Config
	assetID string
	store   domrepo.PriceStore
	l       *applogger.Logger

	scaler   *Scaler
	net      *Network
	bands    BandEstimator
	meta     *Metadata
	degraded bool
}

// NewPredictor creates an untrained predictor.
func NewPredictor(cfg Config, assetID string, store domrepo.PriceStore, l *applogger.Logger) *Predictor {
	if l == nil {
		l = applogger.Nop()
	}
	return &Predictor{
		cfg:     cfg,
		assetID: assetID,
		store:   store,
		l:       l,
		scaler:  NewScaler(),
		bands:   HeuristicBands{Scale: cfg.UncertaintyScale},
	}
}

// Trained reports whether the predictor can forecast.
func (p *Predictor) Trained() bool { return p.net != nil }

// Degraded reports a load that recovered weights without scaler
// metadata; forecasts are unavailable in that state.
func (p *Predictor) Degraded() bool { return p.degraded }

// Metadata returns the training record, nil before training.
func (p *Predictor) Metadata() *Metadata { return p.meta }

// AssetID returns the asset this predictor serves.
func (p *Predictor) AssetID() string { return p.assetID }

// LoadWindow fetches the training window from the price store, dropping
// observations with unusable timestamps.
func (p *Predictor) LoadWindow(ctx context.Context, days int) ([]float64, []time.Time, error) {
	history, err := p.store.History(ctx, p.assetID, days)
	if err != nil {
		return nil, nil, fmt.Errorf("load window for %s: %w", p.assetID, err)
	}

	prices := make([]float64, 0, len(history))
	stamps := make([]time.Time, 0, len(history))
	for _, obs := range history {
		if obs.Timestamp.IsZero() || obs.Price <= 0 {
			continue
		}
		prices = append(prices, obs.Price)
		stamps = append(stamps, obs.Timestamp.UTC())
	}

	if len(prices) < p.cfg.SequenceLength+p.cfg.HorizonDays {
		return nil, nil, fmt.Errorf("%w: %s has %d usable points, need %d",
			models.ErrInsufficientData, p.assetID, len(prices), p.cfg.SequenceLength+p.cfg.HorizonDays)
	}
	return prices, stamps, nil
}

// Fit trains on the full window: fits the scaler, builds overlapping
// subsequences each targeting the next observed value, holds out the
// most recent slice for validation (never shuffled, order is temporal),
// and trains with early stopping.
func (p *Predictor) Fit(ctx context.Context) (*TrainResult, error) {
	prices, _, err := p.LoadWindow(ctx, p.cfg.TrainWindowDays)
	if err != nil {
		return nil, err
	}
	return p.FitWindow(prices)
}

// FitWindow trains directly on a price window.
func (p *Predictor) FitWindow(prices []float64) (*TrainResult, error) {
	if len(prices) < p.cfg.SequenceLength+p.cfg.HorizonDays {
		return nil, fmt.Errorf("%w: window of %d points, need %d",
			models.ErrInsufficientData, len(prices), p.cfg.SequenceLength+p.cfg.HorizonDays)
	}

	start := time.Now()
	p.scaler = NewScaler()
	if err := p.scaler.Fit(prices); err != nil {
		return nil, &models.TrainingError{AssetID: p.assetID, Err: err}
	}
	scaled := p.scaler.Transform(prices)

	x, y := buildSequences(scaled, p.cfg.SequenceLength)
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: no sequences from window", models.ErrInsufficientData)
	}

	splitIdx := int(float64(len(x)) * (1 - p.cfg.ValidationSplit))
	if splitIdx <= 0 || splitIdx >= len(x) {
		splitIdx = len(x) - 1
	}
	trainX, valX := x[:splitIdx], x[splitIdx:]
	trainY, valY := y[:splitIdx], y[splitIdx:]

	net := NewNetwork(NetworkConfig{
		HiddenUnits:  p.cfg.HiddenUnits,
		DenseUnits:   p.cfg.DenseUnits,
		DropoutRate:  p.cfg.DropoutRate,
		LearningRate: p.cfg.LearningRate,
		Seed:         p.cfg.Seed,
	})

	res, err := net.Fit(trainX, trainY, valX, valY, p.cfg.Epochs, p.cfg.Patience, p.cfg.BatchSize)
	if err != nil {
		return nil, &models.TrainingError{AssetID: p.assetID, Err: err}
	}

	// Held-out metrics in price units.
	valPred := make([]float64, len(valX))
	for i, seq := range valX {
		valPred[i] = net.Predict(seq)
	}
	metrics := p.Metrics(p.scaler.Inverse(valY), p.scaler.Inverse(valPred))

	p.net = net
	p.degraded = false
	p.meta = &Metadata{
		AssetID:         p.assetID,
		TrainedAt:       time.Now().UTC(),
		EpochsTrained:   res.EpochsRun,
		FinalLoss:       res.FinalLoss,
		FinalValLoss:    res.FinalValLoss,
		BestValLoss:     res.BestValLoss,
		Metrics:         metrics,
		Hyperparameters: p.cfg.Hyperparameters(),
		Scaler:          p.scaler.Params(),
	}

	p.l.Info("model trained",
		applogger.String("asset", p.assetID),
		applogger.Int("epochs", res.EpochsRun),
		applogger.Float64("best_val_loss", res.BestValLoss),
		applogger.Float64("mape", metrics.MAPE),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return res, nil
}

// Forecast produces an autoregressive multi-step forecast with
// heuristic confidence bands in price units.
func (p *Predictor) Forecast(ctx context.Context, horizon int) (*models.Forecast, error) {
	if p.net == nil {
		return nil, models.ErrNotTrained
	}
	if p.degraded || !p.scaler.Fitted() {
		return nil, fmt.Errorf("%w: scaler parameters unavailable", models.ErrNotTrained)
	}
	if horizon <= 0 {
		horizon = p.cfg.HorizonDays
	}

	// Recent context window for the seed sequence.
	contextDays := p.cfg.TrainWindowDays
	if contextDays > 60 {
		contextDays = 60
	}
	history, err := p.store.History(ctx, p.assetID, contextDays)
	if err != nil {
		return nil, fmt.Errorf("forecast context for %s: %w", p.assetID, err)
	}
	prices := make([]float64, 0, len(history))
	var lastStamp time.Time
	for _, obs := range history {
		if obs.Timestamp.IsZero() || obs.Price <= 0 {
			continue
		}
		prices = append(prices, obs.Price)
		lastStamp = obs.Timestamp.UTC()
	}
	if len(prices) < p.cfg.SequenceLength {
		return nil, fmt.Errorf("%w: %d recent points, need %d",
			models.ErrInsufficientData, len(prices), p.cfg.SequenceLength)
	}

	scaled := p.scaler.Transform(prices)
	window := make([]float64, p.cfg.SequenceLength)
	copy(window, scaled[len(scaled)-p.cfg.SequenceLength:])

	// Slide the window forward one predicted step at a time.
	scaledPreds := make([]float64, horizon)
	for i := 0; i < horizon; i++ {
		next := p.net.Predict(window)
		scaledPreds[i] = next
		copy(window, window[1:])
		window[len(window)-1] = next
	}

	preds := p.scaler.Inverse(scaledPreds)
	for _, v := range preds {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &models.TrainingError{AssetID: p.assetID, Err: fmt.Errorf("forecast produced non-finite values")}
		}
	}
	lower, upper := p.bands.Bands(preds)

	dates := make([]time.Time, horizon)
	for i := range dates {
		dates[i] = lastStamp.Add(time.Duration(i+1) * 24 * time.Hour)
	}

	return &models.Forecast{
		AssetID:     p.assetID,
		Predictions: preds,
		Lower:       lower,
		Upper:       upper,
		Dates:       dates,
		GeneratedAt: time.Now().UTC(),
		HorizonDays: horizon,
	}, nil
}

// Metrics computes rmse/mae/mape (0-100). Returns zeros rather than
// failing when the inputs are unusable.
func (p *Predictor) Metrics(yTrue, yPred []float64) models.EvalMetrics {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return models.EvalMetrics{}
	}
	var sqSum, absSum, pctSum float64
	pctN := 0
	for i := range yTrue {
		d := yPred[i] - yTrue[i]
		sqSum += d * d
		absSum += math.Abs(d)
		if yTrue[i] != 0 {
			pctSum += math.Abs(d / yTrue[i])
			pctN++
		}
	}
	n := float64(len(yTrue))
	m := models.EvalMetrics{
		RMSE: math.Sqrt(sqSum / n),
		MAE:  absSum / n,
	}
	if pctN > 0 {
		m.MAPE = pctSum / float64(pctN) * 100
	}
	if math.IsNaN(m.RMSE) || math.IsNaN(m.MAE) || math.IsNaN(m.MAPE) {
		return models.EvalMetrics{}
	}
	return m
}

// buildSequences slices a scaled series into overlapping fixed-length
// inputs, each paired with the next observed value as its target.
func buildSequences(scaled []float64, seqLen int) ([][]float64, []float64) {
	var x [][]float64
	var y []float64
	for i := seqLen; i < len(scaled); i++ {
		seq := make([]float64, seqLen)
		copy(seq, scaled[i-seqLen:i])
		x = append(x, seq)
		y = append(y, scaled[i])
	}
	return x, y
}
