package config

import (
	"os"
	"path/filepath"
	"strings"
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

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	path := writeConfig(t, "databaseURL: postgres://file\nlogLevel: debug\n")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9100" {
		t.Fatalf("port = %q, want default 9100", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://env" {
		t.Fatalf("env override not applied: %q", cfg.DatabaseURL)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redis addr = %q", cfg.RedisAddr)
	}
	if cfg.StoreDriver != DriverPostgres {
		t.Fatalf("store driver = %q, want default postgres", cfg.StoreDriver)
	}
}

func TestLoadBoltDriver(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("BOLT_PATH", "")

	cfg, err := Load(writeConfig(t, "storeDriver: bolt\nboltPath: data/messages.db\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != DriverBolt || cfg.BoltPath != "data/messages.db" {
		t.Fatalf("bolt config = %+v", cfg)
	}

	if _, err := Load(writeConfig(t, "storeDriver: bolt\n")); err == nil || !strings.Contains(err.Error(), "boltPath") {
		t.Fatalf("expected boltPath error, got %v", err)
	}
	if _, err := Load(writeConfig(t, "storeDriver: sqlite\ndatabaseURL: x\n")); err == nil || !strings.Contains(err.Error(), "storeDriver") {
		t.Fatalf("expected storeDriver error, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "")
	if _, err := Load(writeConfig(t, "port: \"9100\"\n")); err == nil || !strings.Contains(err.Error(), "databaseURL") {
		t.Fatalf("expected databaseURL error, got %v", err)
	}
	if _, err := Load(writeConfig(t, "databaseURL: x\npushTimeout: soon\n")); err == nil {
		t.Fatal("expected pushTimeout parse error")
	}
}

func TestParsePushTimeout(t *testing.T) {
	if d, err := ParsePushTimeout(""); err != nil || d != 5*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParsePushTimeout("250ms"); err != nil || d != 250*time.Millisecond {
		t.Fatalf("parse = %v, %v", d, err)
	}
	if _, err := ParsePushTimeout("-1s"); err == nil {
		t.Fatal("negative timeout should fail")
	}
}
