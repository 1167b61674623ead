package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/missionctl/internal/commander"
	"github.com/danmuck/missionctl/internal/testutil/testlog"
)

func noEnv(string) string { return "" }

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commander.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigDefaultsWithoutFile(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServiceConfig("", noEnv)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := commander.DefaultServiceConfig()
	if cfg.ListenAddr != def.ListenAddr || cfg.Redis.Addr != def.Redis.Addr || cfg.Broker.URL != def.Broker.URL {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadServiceConfigOverlay(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
id = "cmd-west"
addr = ":9090"
token_rotation = "1m"
redis_addr = ""

[broker]
connect_attempts = 2
connect_delay = "250ms"
`)
	cfg, err := loadServiceConfig(path, noEnv)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CommanderID != "cmd-west" || cfg.ListenAddr != ":9090" {
		t.Fatalf("identity not applied: %+v", cfg)
	}
	if cfg.TokenRotation != time.Minute {
		t.Fatalf("unexpected rotation: %s", cfg.TokenRotation)
	}
	if cfg.Redis.Addr != "" {
		t.Fatalf("empty redis_addr should select memory-only, got %q", cfg.Redis.Addr)
	}
	if cfg.Broker.ConnectAttempts != 2 || cfg.Broker.ConnectDelay != 250*time.Millisecond {
		t.Fatalf("broker overlay not applied: %+v", cfg.Broker)
	}
	if cfg.Commander.RetryDelay != 250*time.Millisecond {
		t.Fatalf("listener retry should follow connect_delay: %s", cfg.Commander.RetryDelay)
	}
	if cfg.Broker.URL != commander.DefaultServiceConfig().Broker.URL {
		t.Fatalf("undefined keys must keep defaults: %q", cfg.Broker.URL)
	}
}

func TestLoadServiceConfigEnvOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `redis_addr = "redis-a:6379"`)
	cfg, err := loadServiceConfig(path, envMap(map[string]string{
		envAMQPURL:       "amqp://u:p@broker:5672/",
		envRedisAddr:     "redis-b:6379",
		envRedisPassword: "secret",
	}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Broker.URL != "amqp://u:p@broker:5672/" || cfg.Redis.Addr != "redis-b:6379" || cfg.Redis.Password != "secret" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}

	cfg, err = loadServiceConfig(path, envMap(map[string]string{envRedisAddr: "-"}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Redis.Addr != "" {
		t.Fatalf("dash should clear redis addr, got %q", cfg.Redis.Addr)
	}
}

func TestLoadServiceConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	for name, body := range map[string]string{
		"unknown key":  `heartbeat = "5s"`,
		"bad duration": `token_rotation = "forever"`,
		"bad broker":   "[broker]\nurl = \"http://broker\"\n",
		"bad toml":     `id = `,
	} {
		if _, err := loadServiceConfig(writeConfig(t, body), noEnv); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	testlog.Start(t)
	if err := loadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
