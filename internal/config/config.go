package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	DatabaseURL string          `yaml:"database_url"`
	HTTPAddr    string          `yaml:"http_addr"`
	Auth        AuthConfig      `yaml:"auth"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
	Redis       RedisConfig     `yaml:"redis"`
	Notify      NotifyConfig    `yaml:"notify"`
	Log         LogConfig       `yaml:"log"`
}

// AuthConfig holds API and ingest credentials.
type AuthConfig struct {
	JWTSecret         string `yaml:"jwt_secret"`
	IngestSecret      string `yaml:"ingest_secret"`
	IngestSkewSeconds int    `yaml:"ingest_skew_seconds"`
}

// SchedulerConfig tunes the escalation scheduler.
type SchedulerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// MQTTConfig configures the telemetry consumer. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
}

// RedisConfig configures the live-state relay. An empty address keeps live
// updates in-process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// NotifyConfig holds the notification channel endpoints. Channels without an
// endpoint fall back to log-only delivery.
type NotifyConfig struct {
	EmailWebhookURL  string        `yaml:"email_webhook_url"`
	PushWebhookURL   string        `yaml:"push_webhook_url"`
	ProviderURL      string        `yaml:"provider_url"`
	ProviderToken    string        `yaml:"provider_token"`
	DashboardBaseURL string        `yaml:"dashboard_base_url"`
	Template         string        `yaml:"template"`
	SendTimeout      time.Duration `yaml:"send_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Auth:     AuthConfig{IngestSkewSeconds: 300},
		Scheduler: SchedulerConfig{
			Interval:    time.Minute,
			Concurrency: 8,
		},
		MQTT: MQTTConfig{
			ClientID: "coldchain-cloud",
			Topic:    "coldchain/devices/+/readings",
			QoS:      1,
		},
		Redis:  RedisConfig{Channel: "coldchain:live"},
		Notify: NotifyConfig{SendTimeout: 20 * time.Second},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// COLDCHAIN_CONFIG and environment overrides, in that order.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("COLDCHAIN_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)

	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.Auth.JWTSecret))
	cfg.Auth.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", cfg.Auth.IngestSecret)
	cfg.Auth.IngestSkewSeconds = getenvIntDefault("INGEST_MAX_SKEW_SECONDS", cfg.Auth.IngestSkewSeconds)

	cfg.Scheduler.Interval = getenvDuration("ESCALATION_TICK_INTERVAL", cfg.Scheduler.Interval)
	cfg.Scheduler.Concurrency = getenvIntDefault("ESCALATION_CONCURRENCY", cfg.Scheduler.Concurrency)

	cfg.MQTT.Broker = getenvDefault("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getenvDefault("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getenvDefault("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.Topic = getenvDefault("MQTT_TOPIC", cfg.MQTT.Topic)
	cfg.MQTT.QoS = getenvIntDefault("MQTT_QOS", cfg.MQTT.QoS)

	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getenvIntDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Channel = getenvDefault("REDIS_LIVE_CHANNEL", cfg.Redis.Channel)

	cfg.Notify.EmailWebhookURL = getenvDefault("NOTIFY_EMAIL_WEBHOOK_URL", cfg.Notify.EmailWebhookURL)
	cfg.Notify.PushWebhookURL = getenvDefault("NOTIFY_PUSH_WEBHOOK_URL", cfg.Notify.PushWebhookURL)
	cfg.Notify.ProviderURL = getenvDefault("NOTIFY_PROVIDER_URL", cfg.Notify.ProviderURL)
	cfg.Notify.ProviderToken = getenvDefault("NOTIFY_PROVIDER_TOKEN", cfg.Notify.ProviderToken)
	cfg.Notify.DashboardBaseURL = getenvDefault("DASHBOARD_BASE_URL", cfg.Notify.DashboardBaseURL)
	cfg.Notify.Template = getenvDefault("NOTIFY_TEMPLATE", cfg.Notify.Template)
	cfg.Notify.SendTimeout = getenvDuration("NOTIFY_SEND_TIMEOUT", cfg.Notify.SendTimeout)

	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return errors.New("config: scheduler interval must be positive")
	}
	if c.Scheduler.Concurrency <= 0 {
		return errors.New("config: scheduler concurrency must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: invalid mqtt qos %d", c.MQTT.QoS)
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured.
func (c Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL or PG_DSN is required")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
