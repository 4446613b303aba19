package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/envnode/internal/config"
	"github.com/banshee-data/envnode/internal/link"
)

func TestLoadConfig_MissingDefault(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := loadConfig(config.DefaultConfigPath)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got := cfg.GetStrategy(); got != link.Cooperative {
		t.Errorf("GetStrategy() = %v, want cooperative", got)
	}
}

func TestLoadConfig_MissingExplicit(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("loadConfig() = nil error for a missing explicit path")
	}
}

func TestLoadConfig_RepoDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join("..", "..", config.DefaultConfigPath))
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.EmptyNodeConfig()
	applyFlags(cfg, "/dev/ttyAMA0", "", "127.0.0.1:8081")

	if got := cfg.GetPort(); got != "/dev/ttyAMA0" {
		t.Errorf("GetPort() = %q", got)
	}
	if got := cfg.GetDBPath(); got != "envnode.db" {
		t.Errorf("GetDBPath() = %q, want default", got)
	}
	if got := cfg.GetAdminListen(); got != "127.0.0.1:8081" {
		t.Errorf("GetAdminListen() = %q", got)
	}
}

func TestNodeConfig(t *testing.T) {
	strategy := "bounded-wait"
	interval := "2s"
	cfg := &config.NodeConfig{Strategy: &strategy, SampleInterval: &interval}

	nc := nodeConfig(cfg)
	if nc.Strategy != link.BoundedWait {
		t.Errorf("Strategy = %v", nc.Strategy)
	}
	if nc.SampleInterval != 2*time.Second {
		t.Errorf("SampleInterval = %v", nc.SampleInterval)
	}
	if nc.WakeRetryIterations != 1000 {
		t.Errorf("WakeRetryIterations = %d", nc.WakeRetryIterations)
	}
}

func TestDevSensors(t *testing.T) {
	s := devSensors(time.Now())
	v, err := s.Temperature.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if v < 19 || v > 23 {
		t.Errorf("temperature = %v, want within 21±1.5", v)
	}
	if v, _ := s.Illuminance.Read(); v < 50 || v > 550 {
		t.Errorf("illuminance = %v", v)
	}
}
