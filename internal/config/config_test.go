package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Auth.JWTSecret = "test-secret"
	return cfg
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Ledger.MaxDebit != 1000 || cfg.Ledger.MaxCredit != 10000 {
		t.Fatalf("ledger ceilings = %d/%d, want 1000/10000", cfg.Ledger.MaxDebit, cfg.Ledger.MaxCredit)
	}
	if cfg.Jobs.MinDeviceIDLength != 3 {
		t.Fatalf("min device id length = %d, want 3", cfg.Jobs.MinDeviceIDLength)
	}
	if cfg.Broker.CommandTopicFor("dev-1") != "printer/dev-1/commands" {
		t.Fatalf("command topic = %s", cfg.Broker.CommandTopicFor("dev-1"))
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printdesk.yaml")
	body := `
server:
  port: 9090
ledger:
  max_debit: 50
  seed:
    "123456789": 100
broker:
  driver: nats
  url: nats://localhost:4222
  publish_backoff: 250ms
auth:
  jwt_secret: from-file
  admins: ["123456789"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Ledger.MaxDebit != 50 || cfg.Ledger.MaxCredit != 10000 {
		t.Fatalf("ledger = %+v", cfg.Ledger)
	}
	if cfg.Ledger.Seed["123456789"] != 100 {
		t.Fatalf("seed = %v", cfg.Ledger.Seed)
	}
	if cfg.Broker.Driver != "nats" || cfg.Broker.PublishBackoff != 250*time.Millisecond {
		t.Fatalf("broker = %+v", cfg.Broker)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRINTDESK_PORT", "4000")
	t.Setenv("PRINTDESK_BROKER_URL", "")
	t.Setenv("PRINTDESK_JWT_SECRET", "")
	t.Setenv("MQTT_BROKER", "tcp://mqtt.local:1883")
	t.Setenv("JWT_SECRET", "legacy-secret")
	t.Setenv("PRINTDESK_LOG_LEVEL", "DEBUG")
	t.Setenv("PRINTDESK_DEVICE_TOKEN", "fleet-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Broker.URL != "tcp://mqtt.local:1883" {
		t.Fatalf("broker url = %s", cfg.Broker.URL)
	}
	if cfg.Auth.JWTSecret != "legacy-secret" {
		t.Fatalf("jwt secret = %s", cfg.Auth.JWTSecret)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %s", cfg.Logging.Level)
	}
	if cfg.Auth.DeviceToken != "fleet-token" {
		t.Fatalf("device token = %s", cfg.Auth.DeviceToken)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()

	if err := os.WriteFile(".env", []byte("PRINTDESK_TEST_VALUE=base\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(".env.dev", []byte("PRINTDESK_TEST_VALUE=dev\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PRINTDESK_TEST_VALUE", "")

	loaded, err := LoadEnvFiles()
	if err != nil {
		t.Fatalf("load env files: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded = %v", loaded)
	}
	if got := os.Getenv("PRINTDESK_TEST_VALUE"); got != "dev" {
		t.Fatalf("PRINTDESK_TEST_VALUE = %q, want dev", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"zero debit ceiling", func(c *Config) { c.Ledger.MaxDebit = 0 }, "max debit"},
		{"negative seed", func(c *Config) { c.Ledger.Seed = map[string]int64{"a": -1} }, "seed"},
		{"unknown driver", func(c *Config) { c.Broker.Driver = "carrier-pigeon" }, "broker driver"},
		{"memory needs no url", func(c *Config) { c.Broker.Driver = "memory"; c.Broker.URL = "" }, ""},
		{"mqtt needs url", func(c *Config) { c.Broker.URL = "" }, "broker url"},
		{"command topic placeholder", func(c *Config) { c.Broker.CommandTopic = "printer/commands" }, "{device}"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt secret"},
		{"user without hash", func(c *Config) { c.Auth.Users = []User{{PRN: "1"}} }, "password hash"},
		{"webhook scheme", func(c *Config) { c.Webhooks.Targets = []WebhookTarget{{URL: "ftp://x"}} }, "webhook url"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}
