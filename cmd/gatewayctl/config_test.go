package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/actiongate/internal/coordinator"
	"github.com/danmuck/actiongate/internal/gateway"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigExample(t *testing.T) {
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ID != "gateway.local" {
		t.Fatalf("unexpected id: %q", cfg.ID)
	}
	if cfg.ActuatorAddress != "127.0.0.1:9100" {
		t.Fatalf("unexpected actuator address: %q", cfg.ActuatorAddress)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://127.0.0.1:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CORSOrigins)
	}
	if cfg.Coordinator.ConnectTimeout != 3*time.Second || cfg.Coordinator.PollInterval != 100*time.Millisecond {
		t.Fatalf("unexpected coordinator timings: %+v", cfg.Coordinator)
	}
	if cfg.Coordinator.StaleAfter != 10*time.Second {
		t.Fatalf("unexpected stale_after: %v", cfg.Coordinator.StaleAfter)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected request_timeout: %v", cfg.RequestTimeout)
	}
	if cfg.Wire.Backoff.InitialDelay != 200*time.Millisecond || cfg.Wire.Backoff.MaxDelay != 2*time.Second {
		t.Fatalf("unexpected backoff: %+v", cfg.Wire.Backoff)
	}
}

func TestLoadServiceConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeConfig(t, `stale_after = "2s"`)
	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := gateway.DefaultServiceConfig()
	if cfg.ID != def.ID || cfg.ListenAddr != def.ListenAddr || cfg.ActuatorAddress != def.ActuatorAddress {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.Coordinator.StaleAfter != 2*time.Second {
		t.Fatalf("unexpected stale_after: %v", cfg.Coordinator.StaleAfter)
	}
	if cfg.Coordinator.ConnectTimeout != def.Coordinator.ConnectTimeout {
		t.Fatalf("unexpected connect_timeout: %v", cfg.Coordinator.ConnectTimeout)
	}
}

func TestLoadServiceConfigRejectsBadValues(t *testing.T) {
	if _, err := loadServiceConfig(writeConfig(t, `connect_timeout = "soon"`)); err == nil || !strings.Contains(err.Error(), "connect_timeout") {
		t.Fatalf("expected parse error naming the key, got %v", err)
	}
	_, err := loadServiceConfig(writeConfig(t, `watchdog_interval = "10ms"`))
	if !errors.Is(err, coordinator.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for fast watchdog, got %v", err)
	}
	if _, err := loadServiceConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestCheckCommandPrintsEffectiveConfig(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check", "--config", "ex.config.toml"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out.String(), "actuator=127.0.0.1:9100") || !strings.Contains(out.String(), "stale_after=10s") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}
