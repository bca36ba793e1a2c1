package forecast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScalerRoundTrip(t *testing.T) {
	s := NewScaler()
	values := []float64{10, 20, 30, 40, 50}
	require.NoError(t, s.Fit(values))

	scaled := s.Transform(values)
	require.InDelta(t, 0.0, scaled[0], 1e-12)
	require.InDelta(t, 1.0, scaled[len(scaled)-1], 1e-12)

	back := s.Inverse(scaled)
	for i := range values {
		require.InDelta(t, values[i], back[i], 1e-9)
	}
}

func TestScalerConstantSeries(t *testing.T) {
	s := NewScaler()
	require.NoError(t, s.Fit([]float64{42, 42, 42}))

	scaled := s.Transform([]float64{42, 42})
	for _, v := range scaled {
		require.InDelta(t, 0.0, v, 1e-12)
	}
	back := s.Inverse(scaled)
	for _, v := range back {
		require.InDelta(t, 42.0, v, 1e-9)
	}
}

func TestScalerOutOfRangeUnclamped(t *testing.T) {
	s := NewScaler()
	require.NoError(t, s.Fit([]float64{0, 100}))

	scaled := s.Transform([]float64{150})
	require.InDelta(t, 1.5, scaled[0], 1e-12)

	back := s.Inverse([]float64{1.5})
	require.InDelta(t, 150.0, back[0], 1e-9)
}

func TestScalerEmptyFit(t *testing.T) {
	s := NewScaler()
	require.Error(t, s.Fit(nil))
	require.False(t, s.Fitted())
}

func TestScalerRestore(t *testing.T) {
	s := NewScaler()
	require.NoError(t, s.Fit([]float64{5, 15}))

	restored := RestoreScaler(s.Params())
	require.True(t, restored.Fitted())
	require.InDelta(t, 0.5, restored.Transform([]float64{10})[0], 1e-12)
}
