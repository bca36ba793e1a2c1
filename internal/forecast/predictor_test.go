package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
)

// stubPriceStore serves a fixed history ordered oldest first.
type stubPriceStore struct {
	history []models.PriceObservation
	err     error
}

func (s *stubPriceStore) Init(ctx context.Context) error { return nil }

func (s *stubPriceStore) Record(ctx context.Context, obs models.PriceObservation) (bool, error) {
	s.history = append(s.history, obs)
	return true, nil
}

func (s *stubPriceStore) History(ctx context.Context, assetID string, days int) ([]models.PriceObservation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.history, nil
}

func (s *stubPriceStore) Latest(ctx context.Context, assetID string) (*models.PriceObservation, error) {
	if len(s.history) == 0 {
		return nil, models.ErrNotFound
	}
	last := s.history[len(s.history)-1]
	return &last, nil
}

func (s *stubPriceStore) Range(ctx context.Context, assetID string, start, end time.Time) ([]models.PriceObservation, error) {
	var out []models.PriceObservation
	for _, obs := range s.history {
		if !obs.Timestamp.Before(start) && !obs.Timestamp.After(end) {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (s *stubPriceStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	return &models.StoreStats{}, nil
}

func (s *stubPriceStore) Health(ctx context.Context) error { return nil }
func (s *stubPriceStore) Close() error                     { return nil }

func testPredictorConfig() Config {
	return Config{
		SequenceLength:   10,
		HorizonDays:      5,
		TrainWindowDays:  90,
		HiddenUnits:      8,
		DenseUnits:       4,
		DropoutRate:      0.0,
		LearningRate:     0.01,
		Epochs:           40,
		Patience:         10,
		ValidationSplit:  0.1,
		BatchSize:        16,
		UncertaintyScale: 0.10,
		Seed:             42,
	}
}

// rampHistory builds daily observations along a gentle linear trend.
func rampHistory(n int, start, step float64) []models.PriceObservation {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.PriceObservation, n)
	for i := range out {
		out[i] = models.PriceObservation{
			AssetID:   "bitcoin",
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Price:     start + float64(i)*step,
			Source:    models.SourcePyth,
		}
	}
	return out
}

func TestPredictorLoadWindowInsufficient(t *testing.T) {
	store := &stubPriceStore{history: rampHistory(8, 100, 1)}
	p := NewPredictor(testPredictorConfig(), "bitcoin", store, applogger.Nop())

	_, _, err := p.LoadWindow(context.Background(), 90)
	require.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestPredictorLoadWindowSkipsBadPoints(t *testing.T) {
	history := rampHistory(30, 100, 1)
	history[3].Price = 0
	history[7].Timestamp = time.Time{}
	store := &stubPriceStore{history: history}
	p := NewPredictor(testPredictorConfig(), "bitcoin", store, applogger.Nop())

	prices, stamps, err := p.LoadWindow(context.Background(), 90)
	require.NoError(t, err)
	require.Len(t, prices, 28)
	require.Len(t, stamps, 28)
}

func TestPredictorFitAndForecast(t *testing.T) {
	store := &stubPriceStore{history: rampHistory(90, 100, 0.5)}
	p := NewPredictor(testPredictorConfig(), "bitcoin", store, applogger.Nop())

	res, err := p.Fit(context.Background())
	require.NoError(t, err)
	require.True(t, p.Trained())
	require.Greater(t, res.EpochsRun, 0)

	meta := p.Metadata()
	require.NotNil(t, meta)
	require.Equal(t, "bitcoin", meta.AssetID)
	require.True(t, meta.Scaler.Fitted)
	require.Equal(t, 10, meta.Hyperparameters.SequenceLength)

	fc, err := p.Forecast(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, fc.Predictions, 5)
	require.Len(t, fc.Lower, 5)
	require.Len(t, fc.Upper, 5)
	require.Len(t, fc.Dates, 5)

	// Forecasts stay in a plausible neighborhood of the window.
	for i, v := range fc.Predictions {
		require.Greater(t, v, 50.0)
		require.Less(t, v, 300.0)
		require.LessOrEqual(t, fc.Lower[i], v)
		require.GreaterOrEqual(t, fc.Upper[i], v)
	}

	// Dates advance daily from the last observation.
	last := store.history[len(store.history)-1].Timestamp
	for i, d := range fc.Dates {
		require.Equal(t, last.Add(time.Duration(i+1)*24*time.Hour), d)
	}
}

func TestPredictorTracksLinearTrend(t *testing.T) {
	cfg := testPredictorConfig()
	cfg.SequenceLength = 30
	cfg.HorizonDays = 7
	cfg.Epochs = 100
	cfg.Patience = 25

	store := &stubPriceStore{history: rampHistory(90, 100, 0.5)}
	p := NewPredictor(cfg, "x", store, applogger.Nop())
	_, err := p.Fit(context.Background())
	require.NoError(t, err)

	fc, err := p.Forecast(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, fc.Predictions, 7)

	// Mean absolute percentage error against the extended trend.
	var mapeSum float64
	for i, pred := range fc.Predictions {
		want := 100 + float64(90+i)*0.5
		mapeSum += absFloat(pred-want) / want
		require.LessOrEqual(t, fc.Lower[i], pred)
		require.GreaterOrEqual(t, fc.Upper[i], pred)
	}
	require.Less(t, mapeSum/7*100, 5.0)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestPredictorForecastBeforeTraining(t *testing.T) {
	store := &stubPriceStore{history: rampHistory(90, 100, 0.5)}
	p := NewPredictor(testPredictorConfig(), "bitcoin", store, applogger.Nop())

	_, err := p.Forecast(context.Background(), 5)
	require.ErrorIs(t, err, models.ErrNotTrained)
}

func TestPredictorFitStoreError(t *testing.T) {
	boom := errors.New("connection refused")
	store := &stubPriceStore{err: boom}
	p := NewPredictor(testPredictorConfig(), "bitcoin", store, applogger.Nop())

	_, err := p.Fit(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestPredictorMetrics(t *testing.T) {
	p := NewPredictor(testPredictorConfig(), "bitcoin", &stubPriceStore{}, applogger.Nop())

	m := p.Metrics([]float64{100, 200}, []float64{110, 180})
	require.InDelta(t, 15.0, m.MAE, 1e-9)
	require.InDelta(t, 10.0, m.MAPE, 1e-9) // mean of 10% and 10%

	require.Equal(t, models.EvalMetrics{}, p.Metrics(nil, nil))
	require.Equal(t, models.EvalMetrics{}, p.Metrics([]float64{1}, []float64{1, 2}))
}

func TestBuildSequences(t *testing.T) {
	x, y := buildSequences([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, x, 2)
	require.Equal(t, []float64{1, 2, 3}, x[0])
	require.Equal(t, 4.0, y[0])
	require.Equal(t, []float64{2, 3, 4}, x[1])
	require.Equal(t, 5.0, y[1])
}
