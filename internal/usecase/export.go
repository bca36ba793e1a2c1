package usecase

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Exporter serializes registry and performance data for offline
// analysis.
type Exporter struct {
	registry domrepo.ModelRegistry
	monitor  domrepo.MonitorStore
}

func NewExporter(registry domrepo.ModelRegistry, monitor domrepo.MonitorStore) *Exporter {
	return &Exporter{registry: registry, monitor: monitor}
}

// Registry writes all model versions for an asset (or all assets when
// assetID is empty) in the requested format.
func (e *Exporter) Registry(ctx context.Context, w io.Writer, assetID, format string) error {
	versions, err := e.registry.Versions(ctx, assetID)
	if err != nil {
		return err
	}
	switch format {
	case FormatJSON:
		return writeJSON(w, versions)
	case FormatCSV:
		return writeRegistryCSV(w, versions)
	default:
		return &models.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", format)}
	}
}

// Performance writes the trailing performance snapshots of one model
// version in the requested format.
func (e *Exporter) Performance(ctx context.Context, w io.Writer, version, assetID string, days int, format string) error {
	if days <= 0 {
		days = 30
	}
	snaps, err := e.monitor.Snapshots(ctx, version, assetID, days)
	if err != nil {
		return err
	}
	switch format {
	case FormatJSON:
		return writeJSON(w, snaps)
	case FormatCSV:
		return writePerformanceCSV(w, snaps)
	default:
		return &models.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", format)}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRegistryCSV(w io.Writer, versions []models.ModelVersion) error {
	cw := csv.NewWriter(w)
	header := []string{"version", "asset_id", "created_at", "rmse", "mae", "mape", "sequence_length", "horizon_days", "epochs", "artifact_path"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, v := range versions {
		row := []string{
			v.Version,
			v.AssetID,
			v.CreatedAt.UTC().Format(time.RFC3339),
			formatFloat(v.RMSE),
			formatFloat(v.MAE),
			formatFloat(v.MAPE),
			strconv.Itoa(v.Hyperparameters.SequenceLength),
			strconv.Itoa(v.Hyperparameters.HorizonDays),
			strconv.Itoa(v.Hyperparameters.Epochs),
			v.ArtifactPath,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writePerformanceCSV(w io.Writer, snaps []models.PerformanceSnapshot) error {
	cw := csv.NewWriter(w)
	header := []string{"model_version", "asset_id", "metric_date", "period_days", "rmse", "mae", "mape", "sample_size"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range snaps {
		row := []string{
			s.ModelVersion,
			s.AssetID,
			s.MetricDate.UTC().Format("2006-01-02"),
			strconv.Itoa(s.PeriodDays),
			formatFloat(s.RMSE),
			formatFloat(s.MAE),
			formatFloat(s.MAPE),
			strconv.Itoa(s.SampleSize),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
