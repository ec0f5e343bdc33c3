package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected default addr: %s", cfg.Server.Addr)
	}
	if cfg.Engine.Workers != 4 || cfg.Engine.ReversalPolicy != "refuse" {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if len(cfg.Registry) == 0 {
		t.Fatalf("expected default registry")
	}
	if _, err := domain.NewRegistry(cfg.Registry); err != nil {
		t.Fatalf("default registry must be valid: %v", err)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  addr: ":9090"
engine:
  workers: 8
  reversal_policy: skip
log:
  level: debug
registry:
  - name: Asset
    fields:
      - name: tag
        type: string
        required: true
        naturalKey: true
      - name: parent
        type: string
        relation: Asset
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr not read: %s", cfg.Server.Addr)
	}
	if cfg.Engine.Workers != 8 || cfg.Engine.ReversalPolicy != "skip" {
		t.Fatalf("engine not read: %+v", cfg.Engine)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level not read: %s", cfg.Log.Level)
	}

	if len(cfg.Registry) != 1 || cfg.Registry[0].Name != "Asset" {
		t.Fatalf("registry not read: %+v", cfg.Registry)
	}
	fields := cfg.Registry[0].Fields
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %+v", fields)
	}
	if !fields[0].NaturalKey || !fields[0].Required {
		t.Fatalf("field flags not read: %+v", fields[0])
	}
	if fields[1].Relation != "Asset" {
		t.Fatalf("relation not read: %+v", fields[1])
	}
}

func TestLoadEnvironmentOverridesDatabase(t *testing.T) {
	t.Setenv("IMPORTER_DATABASE_HOST", "db.internal")
	t.Setenv("IMPORTER_DATABASE_PORT", "5433")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.DB.Host != "db.internal" || cfg.DB.Port != 5433 {
		t.Fatalf("environment overrides not applied: %+v", cfg.DB)
	}
}
