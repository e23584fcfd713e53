package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; CONFIG_PATH overrides it.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port              string   `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	UserServiceURL    string   `yaml:"userServiceURL"`
	InternalToken     string   `yaml:"internalToken"`
	JWTSecret         string   `yaml:"jwtSecret"`
	JWTIssuer         string   `yaml:"jwtIssuer"`
	TokenTTL          string   `yaml:"tokenTTL"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`
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
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("INTERNAL_TOKEN"); v != "" {
		cfg.InternalToken = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("AUTH_TOKEN_TTL"); v != "" {
		cfg.TokenTTL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if cfg.Port == "" {
		cfg.Port = "8200"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.UserServiceURL == "" {
		return errors.New("config: userServiceURL is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.InternalToken) == "" {
		return errors.New("config: internalToken is required (set in config.yaml or INTERNAL_TOKEN)")
	}
	if len(cfg.JWTSecret) < 16 {
		return errors.New("config: jwtSecret must be at least 16 bytes (set in config.yaml or JWT_SECRET)")
	}
	if _, err := ParseTokenTTL(cfg.TokenTTL); err != nil {
		return err
	}
	return nil
}

// ParseTokenTTL parses optional token lifetime; empty means the issuer default.
func ParseTokenTTL(ttlStr string) (time.Duration, error) {
	if ttlStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(ttlStr)
	if err != nil {
		return 0, fmt.Errorf("invalid tokenTTL duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("config: tokenTTL must be positive")
	}
	return dur, nil
}
