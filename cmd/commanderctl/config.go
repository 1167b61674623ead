package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/missionctl/internal/channel"
	"github.com/danmuck/missionctl/internal/commander"
	"github.com/danmuck/missionctl/internal/config"
)

const (
	envAMQPURL       = "MISSIONCTL_AMQP_URL"
	envRedisAddr     = "MISSIONCTL_REDIS_ADDR"
	envRedisPassword = "MISSIONCTL_REDIS_PASSWORD"
)

// loadServiceConfig overlays keys present in path onto the defaults, then
// applies environment overrides.
func loadServiceConfig(path string, getenv func(string) string) (commander.ServiceConfig, error) {
	cfg := commander.DefaultServiceConfig()
	if strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return commander.ServiceConfig{}, err
		}
	}
	applyEnv(&cfg, getenv)
	return cfg, nil
}

func overlayFile(cfg *commander.ServiceConfig, path string) error {
	var raw config.CommanderFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load commander config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load commander config: unknown key %s", undecoded[0])
	}
	if err := config.ValidateCommanderFile(raw); err != nil {
		return fmt.Errorf("load commander config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.CommanderID = id
		}
	}
	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = config.Origins(raw.CorsOrigins)
	}
	if meta.IsDefined("token_rotation") {
		cfg.TokenRotation, _ = config.Duration("token_rotation", raw.TokenRotation)
	}
	if meta.IsDefined("status_prefetch") {
		cfg.Commander.StatusPrefetch = raw.StatusPrefetch
	}
	if meta.IsDefined("redis_addr") {
		cfg.Redis.Addr = strings.TrimSpace(raw.RedisAddr)
	}
	if meta.IsDefined("redis_password") {
		cfg.Redis.Password = raw.RedisPassword
	}
	if meta.IsDefined("redis_db") {
		cfg.Redis.DB = raw.RedisDB
	}
	if meta.IsDefined("redis_hash_key") {
		cfg.Redis.HashKey = strings.TrimSpace(raw.RedisHashKey)
	}
	overlayBroker(&cfg.Broker, raw.Broker, meta)
	if meta.IsDefined("broker", "connect_delay") {
		cfg.Commander.RetryDelay = cfg.Broker.ConnectDelay
	}
	return nil
}

func overlayBroker(cfg *channel.Config, raw config.BrokerFile, meta toml.MetaData) {
	if meta.IsDefined("broker", "url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("broker", "connect_attempts") {
		cfg.ConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("broker", "connect_delay") {
		cfg.ConnectDelay, _ = config.Duration("connect_delay", raw.ConnectDelay)
	}
	if meta.IsDefined("broker", "dial_timeout") {
		cfg.DialTimeout, _ = config.Duration("dial_timeout", raw.DialTimeout)
	}
}

func applyEnv(cfg *commander.ServiceConfig, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(envAMQPURL)); v != "" {
		cfg.Broker.URL = v
	}
	if v, ok := lookup(getenv, envRedisAddr); ok {
		cfg.Redis.Addr = v
	}
	if v := getenv(envRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
}

// lookup treats "-" as an explicit empty value so the durable tier can be
// disabled from the environment.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := strings.TrimSpace(getenv(key))
	switch v {
	case "":
		return "", false
	case "-":
		return "", true
	default:
		return v, true
	}
}
