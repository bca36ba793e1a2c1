package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
environment: test
storage:
  backend: memory
postgres:
  dsn: "postgres://localhost/test"
feed:
  assets: ["bitcoin"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Forecast.SequenceLength != 30 {
		t.Errorf("expected default sequence length 30, got %d", cfg.Forecast.SequenceLength)
	}
	if cfg.Forecast.CacheTTL != 15*time.Minute {
		t.Errorf("expected default cache ttl 15m, got %v", cfg.Forecast.CacheTTL)
	}
	if cfg.Monitor.MAPEThreshold != 15.0 {
		t.Errorf("expected default mape threshold 15, got %v", cfg.Monitor.MAPEThreshold)
	}
	if cfg.Backfill.Step != 4*time.Hour {
		t.Errorf("expected default backfill step 4h, got %v", cfg.Backfill.Step)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	bad := `
environment: test
storage:
  backend: dynamo
postgres:
  dsn: "postgres://localhost/test"
feed:
  assets: ["bitcoin"]
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
}

func TestLoadRequiresAssets(t *testing.T) {
	bad := `
environment: test
storage:
  backend: memory
postgres:
  dsn: "postgres://localhost/test"
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("expected error for empty asset list")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://other/db")
	t.Setenv("ASSETS", "bitcoin,ethereum,solana")

	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Postgres.DSN != "postgres://other/db" {
		t.Errorf("expected env dsn override, got %s", cfg.Postgres.DSN)
	}
	if len(cfg.Feed.Assets) != 3 {
		t.Errorf("expected 3 assets from env, got %v", cfg.Feed.Assets)
	}
}
