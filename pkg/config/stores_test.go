package config

import (
	"context"
	"path/filepath"
	"testing"
)

func TestCreateStores(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.App.ClientDir = t.TempDir()
	cfg.Storage.Type = "memory"

	stores, err := CreateStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("CreateStores failed: %v", err)
	}
	defer func() { _ = stores.Close() }()

	a := stores.Adapter()
	if a.Static == nil || a.Data == nil {
		t.Fatalf("Expected both stores, got %+v", a)
	}
	if stores.Sweepable() == nil {
		t.Error("Expected the memory store to be sweepable")
	}
}

func TestCreateStores_BadgerIsNotSweepable(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.App.ClientDir = t.TempDir()
	cfg.Storage.Type = "badger"
	cfg.Storage.Badger = map[string]any{"in_memory": true}

	stores, err := CreateStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("CreateStores failed: %v", err)
	}
	defer func() { _ = stores.Close() }()

	if stores.Sweepable() != nil {
		t.Error("Badger writes are transactional and stage nothing")
	}
}

func TestCreateStores_MissingClientDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.App.ClientDir = filepath.Join(t.TempDir(), "missing")
	cfg.Storage.Type = "memory"

	if _, err := CreateStores(context.Background(), cfg); err == nil {
		t.Fatal("Expected error for missing client directory")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	m := InitializeMetrics(GetDefaultConfig())

	if m.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if m.RPC == nil || m.Session == nil || m.GC == nil {
		t.Fatalf("Expected no-op collectors, got %+v", m)
	}
}

func TestCreateAdapters(t *testing.T) {
	cfg := GetDefaultConfig()
	adapters := CreateAdapters(cfg, InitializeMetrics(cfg))

	if len(adapters) != 1 {
		t.Fatalf("Expected one adapter, got %d", len(adapters))
	}
	if adapters[0].Protocol() != "RPC" {
		t.Errorf("Expected RPC adapter, got %s", adapters[0].Protocol())
	}
}

func TestGCCollectorConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.GC.DryRun = true

	gcCfg := GCCollectorConfig(cfg)
	if !gcCfg.Enabled || !gcCfg.DryRun {
		t.Errorf("Unexpected collector config: %+v", gcCfg)
	}
	if gcCfg.Interval != cfg.GC.Interval || gcCfg.MaxAge != cfg.GC.MaxAge {
		t.Errorf("Timings not carried over: %+v", gcCfg)
	}
}
