package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Events    EventsConfig    `yaml:"events"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Engine    EngineConfig    `yaml:"engine"`
	AutoReply AutoReplyConfig `yaml:"auto_reply"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// StoreConfig selects the data store. Driver is "postgres" or "memory".
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"ssl_mode"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// EventsConfig configures the notification sink. An empty AMQPURL keeps
// events in process.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// GatewayConfig selects the messaging gateway. Driver is "mock" or "http".
type GatewayConfig struct {
	Driver         string  `yaml:"driver"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MockFailRate   float64 `yaml:"mock_fail_rate"`
}

// EngineConfig tunes the dispatch loop and scheduler. Rate limits are
// counted per dispatch tick, so DispatchInterval is the knob that bounds
// how far the real send rate can drift from the nominal per-minute rate.
type EngineConfig struct {
	DispatchInterval   time.Duration `yaml:"dispatch_interval"`
	SchedulerInterval  time.Duration `yaml:"scheduler_interval"`
	InterMessageDelay  time.Duration `yaml:"inter_message_delay"`
	DefaultRateLimit   int           `yaml:"default_rate_limit"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
	Embedded           bool          `yaml:"embedded"`
	ConcurrentChannels bool          `yaml:"concurrent_channels"`
}

type AutoReplyConfig struct {
	Timezone string `yaml:"timezone"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Env:    "development",
		Server: ServerConfig{Port: "8080"},
		Store: StoreConfig{
			Driver:  "postgres",
			Host:    "localhost",
			Port:    "5432",
			Name:    "campaigns",
			SSLMode: "disable",
		},
		Events: EventsConfig{Exchange: "campaign_events"},
		Gateway: GatewayConfig{
			Driver:         "mock",
			TimeoutSeconds: 15,
			MockFailRate:   0,
		},
		Engine: EngineConfig{
			DispatchInterval:  30 * time.Second,
			SchedulerInterval: 15 * time.Second,
			InterMessageDelay: 2 * time.Second,
			DefaultRateLimit:  30,
			LockTTL:           2 * time.Minute,
		},
		AutoReply: AutoReplyConfig{Timezone: "UTC"},
	}
}

// Load reads the optional YAML file at path on top of the defaults, then
// applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Missing .env is fine, the OS environment is used as is.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Env, "GO_ENV")
	setString(&c.Server.Port, "SERVER_PORT")

	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.DatabaseURL, "DATABASE_URL")
	setString(&c.Store.User, "DB_USER")
	setString(&c.Store.Password, "DB_PASSWORD")
	setString(&c.Store.Host, "DB_HOST")
	setString(&c.Store.Port, "DB_PORT")
	setString(&c.Store.Name, "DB_NAME")
	setString(&c.Store.SSLMode, "DB_SSLMODE")

	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Events.AMQPURL, "AMQP_URL")
	setString(&c.Events.Exchange, "AMQP_EXCHANGE")

	setString(&c.Gateway.Driver, "GATEWAY_DRIVER")
	setString(&c.Gateway.BaseURL, "GATEWAY_URL")
	setString(&c.Gateway.APIKey, "GATEWAY_API_KEY")
	setString(&c.AutoReply.Timezone, "AUTO_REPLY_TIMEZONE")

	if err := setInt(&c.Gateway.TimeoutSeconds, "GATEWAY_TIMEOUT_SECONDS"); err != nil {
		return err
	}
	if err := setFloat(&c.Gateway.MockFailRate, "GATEWAY_MOCK_FAIL_RATE"); err != nil {
		return err
	}
	if err := setDuration(&c.Engine.DispatchInterval, "DISPATCH_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.Engine.SchedulerInterval, "SCHEDULER_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.Engine.InterMessageDelay, "INTER_MESSAGE_DELAY"); err != nil {
		return err
	}
	if err := setDuration(&c.Engine.LockTTL, "LOCK_TTL"); err != nil {
		return err
	}
	if err := setInt(&c.Engine.DefaultRateLimit, "DEFAULT_RATE_LIMIT"); err != nil {
		return err
	}
	if err := setBool(&c.Engine.Embedded, "WORKER_EMBEDDED"); err != nil {
		return err
	}
	return setBool(&c.Engine.ConcurrentChannels, "DISPATCH_CONCURRENT_CHANNELS")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Gateway.Driver {
	case "mock":
	case "http":
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("gateway driver http requires GATEWAY_URL")
		}
	default:
		return fmt.Errorf("unknown gateway driver %q", c.Gateway.Driver)
	}
	if c.Engine.DispatchInterval <= 0 || c.Engine.SchedulerInterval <= 0 {
		return fmt.Errorf("engine intervals must be positive")
	}
	if c.Engine.InterMessageDelay < 0 {
		return fmt.Errorf("inter message delay cannot be negative")
	}
	if c.Engine.DefaultRateLimit <= 0 {
		return fmt.Errorf("default rate limit must be positive")
	}
	if _, err := time.LoadLocation(c.AutoReply.Timezone); err != nil {
		return fmt.Errorf("auto reply timezone: %w", err)
	}
	return nil
}

// DSN returns the Postgres connection string.
func (s StoreConfig) DSN() string {
	if s.DatabaseURL != "" {
		return s.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// Location returns the auto-reply business hours timezone.
func (a AutoReplyConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
