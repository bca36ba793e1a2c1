package usecase

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
)

func seedExportRegistry(t *testing.T, registry *fakeRegistry) {
	t.Helper()
	ctx := context.Background()
	hp := models.Hyperparameters{SequenceLength: 30, HorizonDays: 7, Epochs: 50}
	_, err := registry.Register(ctx, "btc", "/models/btc_v1.0.0.json", models.EvalMetrics{RMSE: 12.5, MAE: 9.1, MAPE: 4.2}, hp)
	require.NoError(t, err)
	_, err = registry.Register(ctx, "btc", "/models/btc_v1.0.1.json", models.EvalMetrics{RMSE: 10.0, MAE: 7.5, MAPE: 3.8}, hp)
	require.NoError(t, err)
	_, err = registry.Register(ctx, "eth", "/models/eth_v1.0.0.json", models.EvalMetrics{MAPE: 6.0}, hp)
	require.NoError(t, err)
}

func TestExportRegistryCSV(t *testing.T) {
	registry := &fakeRegistry{}
	seedExportRegistry(t, registry)
	exp := NewExporter(registry, &fakeMonitorStore{})

	var buf bytes.Buffer
	require.NoError(t, exp.Registry(context.Background(), &buf, "btc", FormatCSV))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + two btc versions
	require.Equal(t, "version", rows[0][0])
	require.Equal(t, "v1.0.0", rows[1][0])
	require.Equal(t, "v1.0.1", rows[2][0])
	require.Equal(t, "30", rows[1][6])
	require.Equal(t, "/models/btc_v1.0.0.json", rows[1][9])
}

func TestExportRegistryJSON(t *testing.T) {
	registry := &fakeRegistry{}
	seedExportRegistry(t, registry)
	exp := NewExporter(registry, &fakeMonitorStore{})

	var buf bytes.Buffer
	require.NoError(t, exp.Registry(context.Background(), &buf, "", FormatJSON))

	var versions []models.ModelVersion
	require.NoError(t, json.Unmarshal(buf.Bytes(), &versions))
	require.Len(t, versions, 3)
}

func TestExportPerformance(t *testing.T) {
	ctx := context.Background()
	store := &fakeMonitorStore{}
	day := time.Now().UTC().Truncate(24 * time.Hour)
	require.NoError(t, store.UpsertSnapshot(ctx, models.PerformanceSnapshot{
		ModelVersion: "v1.0.0", AssetID: "btc", MetricDate: day.AddDate(0, 0, -1),
		PeriodDays: 7, RMSE: 11, MAE: 8, MAPE: 4.5, SampleSize: 6,
	}))
	require.NoError(t, store.UpsertSnapshot(ctx, models.PerformanceSnapshot{
		ModelVersion: "v1.0.0", AssetID: "btc", MetricDate: day,
		PeriodDays: 7, RMSE: 10, MAE: 7, MAPE: 4.1, SampleSize: 7,
	}))
	exp := NewExporter(&fakeRegistry{}, store)

	var buf bytes.Buffer
	require.NoError(t, exp.Performance(ctx, &buf, "v1.0.0", "btc", 30, FormatCSV))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "7", rows[1][3])
	require.Equal(t, "6", rows[1][7])

	buf.Reset()
	require.NoError(t, exp.Performance(ctx, &buf, "v1.0.0", "btc", 30, FormatJSON))
	var snaps []models.PerformanceSnapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &snaps))
	require.Len(t, snaps, 2)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	exp := NewExporter(&fakeRegistry{}, &fakeMonitorStore{})
	var buf bytes.Buffer
	err := exp.Registry(context.Background(), &buf, "", "xml")
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}
