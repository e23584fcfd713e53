package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; CONFIG_PATH overrides it.
const ConfigPath = "config.yaml"

// Message store drivers.
const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port            string `yaml:"port"`
	StoreDriver     string `yaml:"storeDriver"`
	DatabaseURL     string `yaml:"databaseURL"`
	BoltPath        string `yaml:"boltPath"`
	LogLevel        string `yaml:"logLevel"`
	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`
	DeliveryChannel string `yaml:"deliveryChannel"`
	PushTimeout     string `yaml:"pushTimeout"`
}

// Load reads config from path and applies environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("BOLT_PATH"); v != "" {
		cfg.BoltPath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if cfg.Port == "" {
		cfg.Port = "9100"
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverPostgres
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParsePushTimeout returns the per-frame write timeout for live pushes.
func ParsePushTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 5 * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid pushTimeout: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("config: pushTimeout must be positive")
	}
	return d, nil
}

func validateConfig(cfg FileConfig) error {
	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case DriverBolt:
		if cfg.BoltPath == "" {
			return errors.New("config: boltPath is required when storeDriver is bolt")
		}
	default:
		return fmt.Errorf("config: unknown storeDriver %q (want postgres or bolt)", cfg.StoreDriver)
	}
	if _, err := ParsePushTimeout(cfg.PushTimeout); err != nil {
		return err
	}
	return nil
}
