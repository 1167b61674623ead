// Package config holds the on-disk schemas for commander and soldier
// processes along with strict validation and starter templates.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

type BrokerFile struct {
	URL             string `toml:"url"`
	ConnectAttempts int    `toml:"connect_attempts"`
	ConnectDelay    string `toml:"connect_delay"`
	DialTimeout     string `toml:"dial_timeout"`
}

type CommanderFile struct {
	ID             string     `toml:"id"`
	Addr           string     `toml:"addr"`
	CorsOrigins    []string   `toml:"cors_origins"`
	TokenRotation  string     `toml:"token_rotation"`
	StatusPrefetch int        `toml:"status_prefetch"`
	RedisAddr      string     `toml:"redis_addr"`
	RedisPassword  string     `toml:"redis_password"`
	RedisDB        int        `toml:"redis_db"`
	RedisHashKey   string     `toml:"redis_hash_key"`
	Broker         BrokerFile `toml:"broker"`
}

type SimulationFile struct {
	MinDuration string  `toml:"min_duration"`
	MaxDuration string  `toml:"max_duration"`
	SuccessRate float64 `toml:"success_rate"`
}

type SoldierFile struct {
	ID                 string         `toml:"id"`
	CommanderURL       string         `toml:"commander_url"`
	MetricsAddr        string         `toml:"metrics_addr"`
	TokenRefreshBefore string         `toml:"token_refresh_before"`
	Concurrency        int            `toml:"concurrency"`
	Prefetch           int            `toml:"prefetch"`
	Simulation         SimulationFile `toml:"simulation"`
	Broker             BrokerFile     `toml:"broker"`
}

func LoadCommanderFile(path string) (CommanderFile, error) {
	var cfg CommanderFile
	if err := loadToml(path, &cfg); err != nil {
		return CommanderFile{}, err
	}
	if err := ValidateCommanderFile(cfg); err != nil {
		return CommanderFile{}, err
	}
	return cfg, nil
}

func LoadSoldierFile(path string) (SoldierFile, error) {
	var cfg SoldierFile
	if err := loadToml(path, &cfg); err != nil {
		return SoldierFile{}, err
	}
	if err := ValidateSoldierFile(cfg); err != nil {
		return SoldierFile{}, err
	}
	return cfg, nil
}

// Check loads and validates the file at path as the given kind.
func Check(kind, path string) error {
	switch normalizeKind(kind) {
	case KindCommander:
		_, err := LoadCommanderFile(path)
		return err
	case KindSoldier:
		_, err := LoadSoldierFile(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

// loadToml rejects keys that do not belong to the schema.
func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateCommanderFile(cfg CommanderFile) error {
	if _, err := Duration("token_rotation", cfg.TokenRotation); err != nil {
		return err
	}
	if cfg.StatusPrefetch < 0 {
		return fmt.Errorf("commander config status_prefetch must not be negative")
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("commander config redis_db must not be negative")
	}
	for i, origin := range cfg.CorsOrigins {
		u, err := url.Parse(strings.TrimSpace(origin))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("cors_origins[%d] invalid: %q", i, origin)
		}
	}
	if err := ValidateBrokerFile(cfg.Broker); err != nil {
		return fmt.Errorf("broker invalid: %w", err)
	}
	return nil
}

func ValidateSoldierFile(cfg SoldierFile) error {
	if raw := strings.TrimSpace(cfg.CommanderURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("soldier config commander_url invalid: %q", cfg.CommanderURL)
		}
	}
	if _, err := Duration("token_refresh_before", cfg.TokenRefreshBefore); err != nil {
		return err
	}
	if cfg.Concurrency < 0 {
		return fmt.Errorf("soldier config concurrency must not be negative")
	}
	if cfg.Prefetch < 0 {
		return fmt.Errorf("soldier config prefetch must not be negative")
	}
	minD, err := Duration("simulation.min_duration", cfg.Simulation.MinDuration)
	if err != nil {
		return err
	}
	maxD, err := Duration("simulation.max_duration", cfg.Simulation.MaxDuration)
	if err != nil {
		return err
	}
	if minD > 0 && maxD > 0 && maxD < minD {
		return fmt.Errorf("simulation.max_duration must not be below min_duration")
	}
	if cfg.Simulation.SuccessRate < 0 || cfg.Simulation.SuccessRate > 1 {
		return fmt.Errorf("simulation.success_rate must be within [0, 1]")
	}
	if err := ValidateBrokerFile(cfg.Broker); err != nil {
		return fmt.Errorf("broker invalid: %w", err)
	}
	return nil
}

func ValidateBrokerFile(cfg BrokerFile) error {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		if _, err := amqp.ParseURI(raw); err != nil {
			return fmt.Errorf("url: %w", err)
		}
	}
	if cfg.ConnectAttempts < 0 {
		return fmt.Errorf("connect_attempts must not be negative")
	}
	if _, err := Duration("connect_delay", cfg.ConnectDelay); err != nil {
		return err
	}
	if _, err := Duration("dial_timeout", cfg.DialTimeout); err != nil {
		return err
	}
	return nil
}
