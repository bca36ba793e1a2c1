package forecast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
)

// artifact is the on-disk JSON layout for a trained model.
type artifact struct {
	FormatVersion int           `json:"format_version"`
	Network       *NetworkState `json:"network"`
	Metadata      *Metadata     `json:"metadata,omitempty"`
}

const artifactFormatVersion = 1

// ArtifactPath returns the weights file path for an asset and version.
func ArtifactPath(dir, assetID, version string) string {
	asset := strings.ToLower(strings.ReplaceAll(assetID, "/", "_"))
	return filepath.Join(dir, fmt.Sprintf("%s_%s.json", asset, version))
}

// Save writes the trained network, scaler parameters and training
// record to path, creating parent directories as needed.
func (p *Predictor) Save(path string) error {
	if p.net == nil {
		return models.ErrNotTrained
	}
	st := p.net.State()
	art := artifact{
		FormatVersion: artifactFormatVersion,
		Network:       &st,
		Metadata:      p.meta,
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return &models.StorageError{Op: "marshal artifact", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &models.StorageError{Op: "create artifact dir", Err: err}
	}

	// Write-then-rename so readers never see a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &models.StorageError{Op: "write artifact", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &models.StorageError{Op: "rename artifact", Err: err}
	}
	return nil
}

// LoadPredictor restores a predictor from a saved artifact. An
// artifact carrying weights but no scaler metadata loads in a degraded
// state: the instance exists but refuses to forecast.
func LoadPredictor(cfg Config, assetID, path string, store domrepo.PriceStore, l *applogger.Logger) (*Predictor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: artifact %s", models.ErrNotFound, path)
		}
		return nil, &models.StorageError{Op: "read artifact", Err: err}
	}

	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, &models.StorageError{Op: "decode artifact", Err: err}
	}
	if art.Network == nil {
		return nil, &models.StorageError{Op: "decode artifact", Err: fmt.Errorf("missing network state")}
	}

	net, err := RestoreNetwork(*art.Network)
	if err != nil {
		return nil, &models.StorageError{Op: "restore network", Err: err}
	}

	p := NewPredictor(cfg, assetID, store, l)
	p.net = net
	p.meta = art.Metadata

	if art.Metadata == nil || !art.Metadata.Scaler.Fitted {
		p.degraded = true
		p.l.Warn("artifact loaded without scaler metadata, predictor degraded",
			applogger.String("asset", assetID),
			applogger.String("path", path),
		)
		return p, nil
	}
	p.scaler = RestoreScaler(art.Metadata.Scaler)
	return p, nil
}
