package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/forecast"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/repository"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/usecase"
)

// listRegistry is a registry stub fed with fixed rows.
type listRegistry struct {
	rows []models.ModelVersion
}

func (r *listRegistry) Init(context.Context) error { return nil }

func (r *listRegistry) Register(_ context.Context, assetID, path string, m models.EvalMetrics, hp models.Hyperparameters) (string, error) {
	v := models.InitialVersion
	r.rows = append(r.rows, models.ModelVersion{Version: v, AssetID: assetID, ArtifactPath: path})
	return v, nil
}

func (r *listRegistry) Versions(_ context.Context, assetID string) ([]models.ModelVersion, error) {
	var out []models.ModelVersion
	for _, row := range r.rows {
		if assetID == "" || row.AssetID == assetID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *listRegistry) Latest(_ context.Context, assetID string) (*models.ModelVersion, error) {
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].AssetID == assetID {
			return &r.rows[i], nil
		}
	}
	return nil, fmt.Errorf("no models: %w", models.ErrNotFound)
}

func (r *listRegistry) ByVersion(_ context.Context, version string) (*models.ModelVersion, error) {
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].Version == version {
			return &r.rows[i], nil
		}
	}
	return nil, fmt.Errorf("version %s: %w", version, models.ErrNotFound)
}

func (r *listRegistry) RollbackCandidates(ctx context.Context, assetID, exclude string) ([]models.ModelVersion, error) {
	all, err := r.Versions(ctx, assetID)
	if err != nil {
		return nil, err
	}
	var out []models.ModelVersion
	for _, row := range all {
		if row.Version != exclude {
			out = append(out, row)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*echo.Echo, *repository.MemoryPriceStore, *listRegistry) {
	t.Helper()
	store := repository.NewMemoryPriceStore()
	registry := &listRegistry{}
	orch := usecase.NewOrchestrator(forecast.Config{ArtifactDir: t.TempDir(), HorizonDays: 7},
		store, registry, nil, nil, time.Minute, nil, nil)
	h := NewDashboardHandler(nil, orch, nil, usecase.NewExporter(registry, nil), nil, store, registry)

	e := echo.New()
	h.RegisterRoutes(e)
	return e, store, registry
}

func doRequest(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type apiEnvelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apiEnvelope {
	t.Helper()
	var env apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHistoryEndpoint(t *testing.T) {
	e, store, _ := newTestServer(t)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		ok, err := store.Record(context.Background(), models.PriceObservation{
			AssetID:   "btc",
			Timestamp: now.Add(-time.Duration(i+1) * time.Hour),
			Price:     100 + float64(i),
			Source:    models.SourcePyth,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}

	rec := doRequest(e, http.MethodGet, "/api/history?asset=btc&days=7")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	require.Equal(t, http.StatusOK, env.Status)

	var list struct {
		Rows  []models.PriceObservation `json:"rows"`
		Total int64                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 3)
	require.Equal(t, int64(3), list.Total)
}

func TestHistoryRequiresAsset(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := doRequest(e, http.MethodGet, "/api/history")
	env := decodeEnvelope(t, rec)
	require.Equal(t, http.StatusBadRequest, env.Status)
}

func TestStatsEndpoint(t *testing.T) {
	e, store, _ := newTestServer(t)
	_, err := store.Record(context.Background(), models.PriceObservation{
		AssetID:   "eth",
		Timestamp: time.Now().UTC().Add(-time.Minute),
		Price:     2000,
		Source:    models.SourcePyth,
	})
	require.NoError(t, err)

	rec := doRequest(e, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var stats models.StoreStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	require.Equal(t, int64(1), stats.TotalRecords)
	require.Equal(t, 1, stats.AssetsTracked)
}

func TestModelsEndpoint(t *testing.T) {
	e, _, registry := newTestServer(t)
	_, err := registry.Register(context.Background(), "btc", "/models/a.json", models.EvalMetrics{}, models.Hyperparameters{})
	require.NoError(t, err)

	rec := doRequest(e, http.MethodGet, "/api/models?asset=btc")
	env := decodeEnvelope(t, rec)
	require.Equal(t, http.StatusOK, env.Status)

	var list struct {
		Rows []models.ModelVersion `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 1)
	require.Equal(t, "v1.0.0", list.Rows[0].Version)
}

func TestRollbackUnknownVersion(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := doRequest(e, http.MethodPost, "/api/models/v9.9.9/rollback")
	env := decodeEnvelope(t, rec)
	require.Equal(t, http.StatusNotFound, env.Status)

	var res models.RollbackResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.False(t, res.Success)
	require.Contains(t, res.Error, "unknown version")
}

func TestExportRegistryEndpoint(t *testing.T) {
	e, _, registry := newTestServer(t)
	_, err := registry.Register(context.Background(), "btc", "/models/a.json", models.EvalMetrics{}, models.Hyperparameters{})
	require.NoError(t, err)

	rec := doRequest(e, http.MethodGet, "/api/export/registry?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/csv")
	require.Contains(t, rec.Body.String(), "v1.0.0")
}

func TestExportPerformanceRequiresVersion(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := doRequest(e, http.MethodGet, "/api/export/performance?format=json")
	env := decodeEnvelope(t, rec)
	require.Equal(t, http.StatusBadRequest, env.Status)
}
