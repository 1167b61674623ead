package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/missionctl/internal/config"
	"github.com/danmuck/missionctl/internal/soldier"
)

const (
	envAMQPURL      = "MISSIONCTL_AMQP_URL"
	envCommanderURL = "MISSIONCTL_COMMANDER_URL"
)

func loadServiceConfig(path string, getenv func(string) string) (soldier.ServiceConfig, error) {
	cfg := soldier.DefaultServiceConfig()
	if strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return soldier.ServiceConfig{}, err
		}
	}
	if v := strings.TrimSpace(getenv(envAMQPURL)); v != "" {
		cfg.Broker.URL = v
	}
	if v := strings.TrimSpace(getenv(envCommanderURL)); v != "" {
		cfg.CommanderURL = v
	}
	return cfg, nil
}

func overlayFile(cfg *soldier.ServiceConfig, path string) error {
	var raw config.SoldierFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load soldier config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load soldier config: unknown key %s", undecoded[0])
	}
	if err := config.ValidateSoldierFile(raw); err != nil {
		return fmt.Errorf("load soldier config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.SoldierID = id
		}
	}
	if meta.IsDefined("commander_url") {
		cfg.CommanderURL = strings.TrimSpace(raw.CommanderURL)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("token_refresh_before") {
		cfg.TokenRefreshBefore, _ = config.Duration("token_refresh_before", raw.TokenRefreshBefore)
	}
	if meta.IsDefined("concurrency") {
		cfg.Pool.Concurrency = raw.Concurrency
	}
	if meta.IsDefined("prefetch") {
		cfg.Pool.Prefetch = raw.Prefetch
	}
	if meta.IsDefined("simulation", "min_duration") {
		cfg.Simulation.MinDuration, _ = config.Duration("min_duration", raw.Simulation.MinDuration)
	}
	if meta.IsDefined("simulation", "max_duration") {
		cfg.Simulation.MaxDuration, _ = config.Duration("max_duration", raw.Simulation.MaxDuration)
	}
	if meta.IsDefined("simulation", "success_rate") {
		cfg.Simulation.SuccessRate = raw.Simulation.SuccessRate
	}
	if meta.IsDefined("broker", "url") {
		cfg.Broker.URL = strings.TrimSpace(raw.Broker.URL)
	}
	if meta.IsDefined("broker", "connect_attempts") {
		cfg.Broker.ConnectAttempts = raw.Broker.ConnectAttempts
	}
	if meta.IsDefined("broker", "connect_delay") {
		cfg.Broker.ConnectDelay, _ = config.Duration("connect_delay", raw.Broker.ConnectDelay)
		cfg.Pool.RetryDelay = cfg.Broker.ConnectDelay
	}
	if meta.IsDefined("broker", "dial_timeout") {
		cfg.Broker.DialTimeout, _ = config.Duration("dial_timeout", raw.Broker.DialTimeout)
	}
	return nil
}
