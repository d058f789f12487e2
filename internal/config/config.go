package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Broker   BrokerConfig   `yaml:"broker"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Printers PrintersConfig `yaml:"printers"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// PublicURL overrides the origin printers use to fetch files. When empty
	// the origin is taken from the incoming request.
	PublicURL string `yaml:"public_url"`
}

type LedgerConfig struct {
	MaxDebit  int64            `yaml:"max_debit"`
	MaxCredit int64            `yaml:"max_credit"`
	Seed      map[string]int64 `yaml:"seed"`
}

type JobsConfig struct {
	MinDeviceIDLength int `yaml:"min_device_id_length"`
}

type BrokerConfig struct {
	Driver         string        `yaml:"driver"`
	URL            string        `yaml:"url"`
	ClientID       string        `yaml:"client_id"`
	CommandTopic   string        `yaml:"command_topic"`
	StatusTopic    string        `yaml:"status_topic"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	PublishRetries int           `yaml:"publish_retries"`
	PublishBackoff time.Duration `yaml:"publish_backoff"`
}

type UploadsConfig struct {
	Dir       string `yaml:"dir"`
	MaxBytes  int64  `yaml:"max_bytes"`
	URLPrefix string `yaml:"url_prefix"`
}

type User struct {
	PRN          string `yaml:"prn"`
	Name         string `yaml:"name"`
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Users     []User        `yaml:"users"`
	Admins    []string      `yaml:"admins"`
	// DeviceToken, when set, must accompany status reports posted over HTTP.
	DeviceToken string `yaml:"device_token"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type WebhookTarget struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type WebhooksConfig struct {
	Targets    []WebhookTarget `yaml:"targets"`
	RetryCount int             `yaml:"retry_count"`
	RetryDelay time.Duration   `yaml:"retry_delay"`
	Timeout    time.Duration   `yaml:"timeout"`
	QueueSize  int             `yaml:"queue_size"`
	Workers    int             `yaml:"workers"`
}

type PrinterEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type PrintersConfig struct {
	Known        []PrinterEntry `yaml:"known"`
	OfflineAfter time.Duration  `yaml:"offline_after"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         3001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			MaxDebit:  1000,
			MaxCredit: 10000,
		},
		Jobs: JobsConfig{
			MinDeviceIDLength: 3,
		},
		Broker: BrokerConfig{
			Driver:         "mqtt",
			URL:            "tcp://broker.hivemq.com:1883",
			ClientID:       "printdesk",
			CommandTopic:   "printer/{device}/commands",
			StatusTopic:    "printer/+/status",
			ConnectTimeout: 10 * time.Second,
			ReconnectWait:  2 * time.Second,
			PublishRetries: 2,
			PublishBackoff: 100 * time.Millisecond,
		},
		Uploads: UploadsConfig{
			Dir:       "./uploads",
			MaxBytes:  20 << 20,
			URLPrefix: "/uploads",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Webhooks: WebhooksConfig{
			RetryCount: 3,
			RetryDelay: 5 * time.Second,
			Timeout:    10 * time.Second,
			QueueSize:  100,
			Workers:    2,
		},
		Printers: PrintersConfig{
			OfflineAfter: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads configPath over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

// LoadEnvFiles loads .env and .env.dev from the working directory, later
// files overriding earlier ones. It returns the files that were loaded.
func LoadEnvFiles() ([]string, error) {
	var loaded []string
	for _, file := range []string{".env", ".env.dev"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			return loaded, fmt.Errorf("failed to load %s: %w", file, err)
		}
		loaded = append(loaded, file)
	}
	return loaded, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PRINTDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	// PORT is set by most hosting platforms.
	if v := os.Getenv("PORT"); v != "" && os.Getenv("PRINTDESK_PORT") == "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTDESK_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}

	if v := os.Getenv("PRINTDESK_BROKER_DRIVER"); v != "" {
		cfg.Broker.Driver = v
	}

	if v := os.Getenv("PRINTDESK_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	} else if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.Broker.URL = v
	}

	if v := os.Getenv("PRINTDESK_UPLOAD_DIR"); v != "" {
		cfg.Uploads.Dir = v
	}

	if v := os.Getenv("PRINTDESK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PRINTDESK_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	} else if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if v := os.Getenv("PRINTDESK_DEVICE_TOKEN"); v != "" {
		cfg.Auth.DeviceToken = v
	}

	if v := os.Getenv("PRINTDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv("PRINTDESK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Ledger.MaxDebit < 1 {
		return fmt.Errorf("ledger max debit must be at least 1")
	}

	if c.Ledger.MaxCredit < 1 {
		return fmt.Errorf("ledger max credit must be at least 1")
	}

	for account, balance := range c.Ledger.Seed {
		if balance < 0 {
			return fmt.Errorf("ledger seed for %q must be non-negative", account)
		}
	}

	if c.Jobs.MinDeviceIDLength < 1 {
		return fmt.Errorf("minimum device id length must be at least 1")
	}

	validDrivers := map[string]bool{
		"mqtt":   true,
		"nats":   true,
		"memory": true,
	}

	if !validDrivers[c.Broker.Driver] {
		return fmt.Errorf("invalid broker driver: %s (valid: mqtt, nats, memory)", c.Broker.Driver)
	}

	if c.Broker.Driver != "memory" && c.Broker.URL == "" {
		return fmt.Errorf("broker url is required for driver %s", c.Broker.Driver)
	}

	if !strings.Contains(c.Broker.CommandTopic, "{device}") {
		return fmt.Errorf("broker command topic must contain {device}")
	}

	if c.Broker.StatusTopic == "" {
		return fmt.Errorf("broker status topic is required")
	}

	if c.Broker.PublishRetries < 0 {
		return fmt.Errorf("publish retries must be non-negative")
	}

	if c.Broker.PublishBackoff < 0 {
		return fmt.Errorf("publish backoff must be non-negative")
	}

	if c.Uploads.Dir == "" {
		return fmt.Errorf("upload directory is required")
	}

	if c.Uploads.MaxBytes < 1 {
		return fmt.Errorf("upload max bytes must be positive")
	}

	if !strings.HasPrefix(c.Uploads.URLPrefix, "/") {
		return fmt.Errorf("upload url prefix must start with /")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}

	seen := make(map[string]bool, len(c.Auth.Users))
	for _, u := range c.Auth.Users {
		if u.PRN == "" || u.PasswordHash == "" {
			return fmt.Errorf("auth users need a prn and a password hash")
		}
		if seen[u.PRN] {
			return fmt.Errorf("duplicate auth user %s", u.PRN)
		}
		seen[u.PRN] = true
	}

	for _, t := range c.Webhooks.Targets {
		if !strings.HasPrefix(t.URL, "http://") && !strings.HasPrefix(t.URL, "https://") {
			return fmt.Errorf("webhook url must be http(s): %s", t.URL)
		}
	}

	if c.Printers.OfflineAfter < 0 {
		return fmt.Errorf("printer offline threshold must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// CommandTopicFor expands the command topic template for a device.
func (b BrokerConfig) CommandTopicFor(deviceID string) string {
	return strings.ReplaceAll(b.CommandTopic, "{device}", deviceID)
}
