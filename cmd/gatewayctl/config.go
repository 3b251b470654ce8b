package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/actiongate/internal/gateway"
)

type fileConfig struct {
	ID               string   `toml:"id"`
	ListenAddr       string   `toml:"listen_addr"`
	CORSOrigins      []string `toml:"cors_origins"`
	ActuatorAddress  string   `toml:"actuator_address"`
	ActionName       string   `toml:"action_name"`
	AuthToken        string   `toml:"auth_token"`
	ConnectTimeout   string   `toml:"connect_timeout"`
	WatchdogInterval string   `toml:"watchdog_interval"`
	StaleAfter       string   `toml:"stale_after"`
	RequestTimeout   string   `toml:"request_timeout"`
	CancelTimeout    string   `toml:"cancel_timeout"`
	BackoffInitial   string   `toml:"backoff_initial"`
	BackoffMax       string   `toml:"backoff_max"`
}

func loadServiceConfig(path string) (gateway.ServiceConfig, error) {
	cfg := gateway.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return gateway.ServiceConfig{}, fmt.Errorf("load gateway config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("actuator_address") {
		cfg.ActuatorAddress = strings.TrimSpace(raw.ActuatorAddress)
	}
	if meta.IsDefined("action_name") {
		cfg.ActionName = strings.TrimSpace(raw.ActionName)
	}
	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Coordinator.ConnectTimeout},
		{"watchdog_interval", raw.WatchdogInterval, &cfg.Coordinator.PollInterval},
		{"stale_after", raw.StaleAfter, &cfg.Coordinator.StaleAfter},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"cancel_timeout", raw.CancelTimeout, &cfg.Coordinator.CancelTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Wire.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Wire.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return gateway.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Coordinator.Validate(); err != nil {
		return gateway.ServiceConfig{}, err
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
