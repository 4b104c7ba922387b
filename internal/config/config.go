package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shohag/hookrunner/internal/models"
	"github.com/spf13/viper"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverNone   = "none"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Retention RetentionConfig `mapstructure:"retention"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type MemoryConfig struct {
	MaxAttemptsPerWebhook int `mapstructure:"max_attempts_per_webhook"`
}

type DeliveryConfig struct {
	Workers        int                   `mapstructure:"workers"`
	ConnectTimeout time.Duration         `mapstructure:"connect_timeout"`
	UserAgent      string                `mapstructure:"user_agent"`
	Policy         models.DeliveryPolicy `mapstructure:"policy"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RetentionConfig struct {
	// Window is how long settled webhooks stay queryable. Zero keeps them
	// for the life of the process.
	Window time.Duration `mapstructure:"window"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads hookrunner.yaml from path, or from the working directory and
// /etc/hookrunner when path is empty. HOOKRUNNER_* environment variables
// override file values, e.g. HOOKRUNNER_DELIVERY_WORKERS.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hookrunner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hookrunner")
	}

	setDefaults(v)

	v.SetEnvPrefix("HOOKRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Delivery.Workers < 1 {
		return fmt.Errorf("delivery.workers must be at least 1, got %d", c.Delivery.Workers)
	}
	if c.Delivery.ConnectTimeout < 0 {
		return fmt.Errorf("delivery.connect_timeout must not be negative")
	}
	if c.Delivery.Policy.MaxAttempts < 1 {
		return fmt.Errorf("delivery.policy.max_attempts must be at least 1")
	}
	if err := c.Delivery.Policy.Validate(); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	if c.Retention.Window < 0 {
		return fmt.Errorf("retention.window must not be negative")
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required")
		}
	case DriverMemory, DriverNone:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite.path", ":memory:")
	v.SetDefault("storage.memory.max_attempts_per_webhook", 100)

	def := models.DefaultPolicy()
	v.SetDefault("delivery.workers", 10)
	v.SetDefault("delivery.connect_timeout", 25*time.Second)
	v.SetDefault("delivery.user_agent", "")
	v.SetDefault("delivery.policy.max_attempts", def.MaxAttempts)
	v.SetDefault("delivery.policy.base_backoff", def.BaseBackoff)
	v.SetDefault("delivery.policy.max_backoff", def.MaxBackoff)
	v.SetDefault("delivery.policy.multiplier", def.Multiplier)
	v.SetDefault("delivery.policy.timeout", def.Timeout)
	v.SetDefault("delivery.policy.jitter", def.Jitter)
	v.SetDefault("delivery.policy.retryable_statuses", def.RetryableStatuses)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("retention.window", time.Hour)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
