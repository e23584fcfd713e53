package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const baseConfig = `
authServiceURL: http://auth:8200
userServiceURL: http://users:8100
messageServiceURL: http://message:9100
internalToken: secret
redisAddr: redis:6379
`

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("GATEWAY_MESSAGE_SERVICE_URL", "http://message-2:9100")
	t.Setenv("GATEWAY_RETRY_MAX_ATTEMPTS", "7")
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Fatalf("port = %q, want 8000", cfg.Port)
	}
	if cfg.MessageServiceURL != "http://message-2:9100" {
		t.Fatalf("message url = %q", cfg.MessageServiceURL)
	}
	if cfg.RetryMaxAttempts != 7 {
		t.Fatalf("max attempts = %d", cfg.RetryMaxAttempts)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	cases := map[string]string{
		"missing message url": "authServiceURL: a\nuserServiceURL: b\ninternalToken: t\nredisAddr: r\n",
		"missing redis":       "authServiceURL: a\nuserServiceURL: b\nmessageServiceURL: m\ninternalToken: t\n",
		"bad jitter":          baseConfig + "retryJitter: 1.5\n",
		"bad interval":        baseConfig + "retryInterval: soon\n",
		"negative push":       baseConfig + "pushTimeout: -1s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("retryInterval", "", time.Second)
	if err != nil || d != time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	d, err = ParseDuration("retryInterval", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("parsed = %v, %v", d, err)
	}
}
