package forecast

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func testNetConfig() NetworkConfig {
	return NetworkConfig{
		HiddenUnits:  8,
		DenseUnits:   4,
		DropoutRate:  0.0,
		LearningRate: 0.01,
		Seed:         42,
	}
}

// rampSequences yields a scaled linear series and its training sequences.
func rampSequences(n, seqLen int) ([][]float64, []float64) {
	series := make([]float64, n)
	for i := range series {
		series[i] = float64(i) / float64(n-1)
	}
	return buildSequences(series, seqLen)
}

func TestNetworkPredictDeterministic(t *testing.T) {
	net := NewNetwork(testNetConfig())
	seq := []float64{0.1, 0.2, 0.3, 0.4, 0.5}

	first := net.Predict(seq)
	second := net.Predict(seq)
	require.Equal(t, first, second)
	require.False(t, math.IsNaN(first))
}

func TestNetworkSameSeedSameInit(t *testing.T) {
	a := NewNetwork(testNetConfig())
	b := NewNetwork(testNetConfig())
	seq := []float64{0.2, 0.4, 0.6}
	require.Equal(t, a.Predict(seq), b.Predict(seq))
}

func TestNetworkFitReducesLoss(t *testing.T) {
	x, y := rampSequences(120, 10)
	split := len(x) - 12
	trainX, valX := x[:split], x[split:]
	trainY, valY := y[:split], y[split:]

	net := NewNetwork(testNetConfig())
	before := net.evaluate(valX, valY)

	res, err := net.Fit(trainX, trainY, valX, valY, 60, 15, 16)
	require.NoError(t, err)
	require.Greater(t, res.EpochsRun, 0)
	require.Less(t, res.BestValLoss, before)
	require.False(t, math.IsNaN(res.FinalLoss))
}

func TestNetworkFitEmptyTrainSet(t *testing.T) {
	net := NewNetwork(testNetConfig())
	_, err := net.Fit(nil, nil, nil, nil, 10, 3, 8)
	require.Error(t, err)
}

func TestNetworkStateRoundTrip(t *testing.T) {
	x, y := rampSequences(80, 10)
	net := NewNetwork(testNetConfig())
	_, err := net.Fit(x[:60], y[:60], x[60:], y[60:], 10, 5, 16)
	require.NoError(t, err)

	restored, err := RestoreNetwork(net.State())
	require.NoError(t, err)

	seq := x[0]
	require.InDelta(t, net.Predict(seq), restored.Predict(seq), 1e-12)
}

func TestHeuristicBandsSymmetric(t *testing.T) {
	preds := []float64{100, 105, 110, 108, 112}
	lower, upper := HeuristicBands{Scale: 0.10}.Bands(preds)

	require.Len(t, lower, len(preds))
	require.Len(t, upper, len(preds))
	for i, p := range preds {
		require.Less(t, lower[i], p)
		require.Greater(t, upper[i], p)
		require.InDelta(t, p-lower[i], upper[i]-p, 1e-9)
	}
}

func TestHeuristicBandsFlatPath(t *testing.T) {
	preds := []float64{50, 50, 50}
	lower, upper := HeuristicBands{}.Bands(preds)
	for i := range preds {
		require.InDelta(t, preds[i], lower[i], 1e-12)
		require.InDelta(t, preds[i], upper[i], 1e-12)
	}
}
