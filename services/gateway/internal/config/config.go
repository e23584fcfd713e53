package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; CONFIG_PATH overrides it.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	AuthServiceURL             string   `yaml:"authServiceURL"`
	UserServiceURL             string   `yaml:"userServiceURL"`
	MessageServiceURL          string   `yaml:"messageServiceURL"`
	InternalToken              string   `yaml:"internalToken"`
	JWTSecret                  string   `yaml:"jwtSecret"`
	JWTIssuer                  string   `yaml:"jwtIssuer"`
	JWTLeeway                  string   `yaml:"jwtLeeway"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	SendRateLimitPerMinute     int      `yaml:"sendRateLimitPerMinute"`
	RetryInterval              string   `yaml:"retryInterval"`
	RetryJitter                float64  `yaml:"retryJitter"`
	RetryMaxAttempts           int      `yaml:"retryMaxAttempts"`
	PushTimeout                string   `yaml:"pushTimeout"`
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
	if v := os.Getenv("GATEWAY_MESSAGE_SERVICE_URL"); v != "" {
		cfg.MessageServiceURL = strings.TrimSpace(v)
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
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("GATEWAY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("GATEWAY_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("GATEWAY_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("GATEWAY_SEND_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SendRateLimitPerMinute = n
		}
	}
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.AuthServiceURL == "" {
		return errors.New("config: authServiceURL is required (set in config.yaml)")
	}
	if cfg.UserServiceURL == "" {
		return errors.New("config: userServiceURL is required (set in config.yaml)")
	}
	if cfg.MessageServiceURL == "" {
		return errors.New("config: messageServiceURL is required (set in config.yaml or GATEWAY_MESSAGE_SERVICE_URL)")
	}
	if strings.TrimSpace(cfg.InternalToken) == "" {
		return errors.New("config: internalToken is required (set in config.yaml or INTERNAL_TOKEN)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.SendRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter > 1 {
		return errors.New("config: retryJitter must be between 0 and 1")
	}
	if cfg.RetryMaxAttempts < 0 {
		return errors.New("config: retryMaxAttempts must be >= 0")
	}
	if _, err := ParseDuration("retryInterval", cfg.RetryInterval, time.Second); err != nil {
		return err
	}
	if _, err := ParseDuration("pushTimeout", cfg.PushTimeout, 5*time.Second); err != nil {
		return err
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses a positive duration, returning def when raw is empty.
func ParseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return d, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
