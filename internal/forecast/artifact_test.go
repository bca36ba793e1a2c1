package forecast

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
)

func TestArtifactPath(t *testing.T) {
	got := ArtifactPath("/var/lib/models", "Bitcoin", "v1.2.0")
	require.Equal(t, filepath.Join("/var/lib/models", "bitcoin_v1.2.0.json"), got)
}

func TestArtifactSaveLoadRoundTrip(t *testing.T) {
	store := &stubPriceStore{history: rampHistory(90, 100, 0.5)}
	p := NewPredictor(testPredictorConfig(), "bitcoin", store, applogger.Nop())
	_, err := p.Fit(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bitcoin_v1.0.0.json")
	require.NoError(t, p.Save(path))

	loaded, err := LoadPredictor(testPredictorConfig(), "bitcoin", path, store, applogger.Nop())
	require.NoError(t, err)
	require.True(t, loaded.Trained())
	require.False(t, loaded.Degraded())
	require.NotNil(t, loaded.Metadata())
	require.Equal(t, p.Metadata().Metrics, loaded.Metadata().Metrics)

	want, err := p.Forecast(context.Background(), 3)
	require.NoError(t, err)
	got, err := loaded.Forecast(context.Background(), 3)
	require.NoError(t, err)
	for i := range want.Predictions {
		require.InDelta(t, want.Predictions[i], got.Predictions[i], 1e-9)
	}
}

func TestArtifactSaveUntrained(t *testing.T) {
	store := &stubPriceStore{}
	p := NewPredictor(testPredictorConfig(), "bitcoin", store, applogger.Nop())
	err := p.Save(filepath.Join(t.TempDir(), "x.json"))
	require.ErrorIs(t, err, models.ErrNotTrained)
}

func TestArtifactLoadMissingFile(t *testing.T) {
	_, err := LoadPredictor(testPredictorConfig(), "bitcoin",
		filepath.Join(t.TempDir(), "nope.json"), &stubPriceStore{}, applogger.Nop())
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestArtifactLoadWithoutMetadataIsDegraded(t *testing.T) {
	store := &stubPriceStore{history: rampHistory(90, 100, 0.5)}
	p := NewPredictor(testPredictorConfig(), "bitcoin", store, applogger.Nop())
	_, err := p.Fit(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bitcoin_v1.0.0.json")
	require.NoError(t, p.Save(path))

	// Strip the metadata from the saved file, keeping only weights.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	delete(raw, "metadata")
	stripped, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, stripped, 0o644))

	loaded, err := LoadPredictor(testPredictorConfig(), "bitcoin", path, store, applogger.Nop())
	require.NoError(t, err)
	require.True(t, loaded.Trained())
	require.True(t, loaded.Degraded())

	_, err = loaded.Forecast(context.Background(), 3)
	require.ErrorIs(t, err, models.ErrNotTrained)
}

func TestArtifactLoadCorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadPredictor(testPredictorConfig(), "bitcoin", path, &stubPriceStore{}, applogger.Nop())
	require.Error(t, err)
	var se *models.StorageError
	require.ErrorAs(t, err, &se)
}
