package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEYS", "sk-ant-one")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Cache.Mode != "memory" {
		t.Errorf("Cache.Mode = %q, want memory", cfg.Cache.Mode)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v, want 1h", cfg.Cache.TTL)
	}
	if cfg.Anthropic.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Anthropic.Timeout)
	}
	if cfg.Anthropic.DefaultModel != "claude-3-5-haiku-20241022" {
		t.Errorf("DefaultModel = %q", cfg.Anthropic.DefaultModel)
	}
	if cfg.Keys.DegradedThreshold != 3 || cfg.Keys.OpenThreshold != 5 || cfg.Keys.Cooldown != 60*time.Second {
		t.Errorf("Keys = %+v, want 3/5/60s", cfg.Keys)
	}
	if cfg.RateLimit.RPMLimit != 0 {
		t.Errorf("RPMLimit = %d, want 0", cfg.RateLimit.RPMLimit)
	}
}

func TestLoadKeyPool(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEYS", " sk-ant-a , sk-ant-b ,, sk-ant-c ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"sk-ant-a", "sk-ant-b", "sk-ant-c"}
	if len(cfg.Anthropic.APIKeys) != len(want) {
		t.Fatalf("APIKeys = %v, want %v", cfg.Anthropic.APIKeys, want)
	}
	for i, k := range want {
		if cfg.Anthropic.APIKeys[i] != k {
			t.Errorf("APIKeys[%d] = %q, want %q", i, cfg.Anthropic.APIKeys[i], k)
		}
	}
}

func TestLoadMissingKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEYS", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error with no API keys")
	}
	if !strings.Contains(err.Error(), "ANTHROPIC_API_KEYS") {
		t.Errorf("error %q should name the missing variable", err)
	}
}

func TestLoadRedisModeRequiresURL(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEYS", "sk-ant-one")
	t.Setenv("CACHE_MODE", "redis")
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("CACHE_MODE=redis without REDIS_URL must fail")
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Mode != "redis" {
		t.Errorf("Cache.Mode = %q", cfg.Cache.Mode)
	}
}

func TestLoadRateLimitRequiresRedis(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEYS", "sk-ant-one")
	t.Setenv("RPM_LIMIT", "30")
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("RPM_LIMIT > 0 without REDIS_URL must fail")
	}
}

func TestLoadThresholdOrdering(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEYS", "sk-ant-one")
	t.Setenv("KEY_DEGRADED_THRESHOLD", "6")
	t.Setenv("KEY_OPEN_THRESHOLD", "5")

	if _, err := Load(); err == nil {
		t.Fatal("open threshold below degraded threshold must fail validation")
	}
}

func TestLoadInvalidCacheMode(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEYS", "sk-ant-one")
	t.Setenv("CACHE_MODE", "disk")

	if _, err := Load(); err == nil {
		t.Fatal("invalid CACHE_MODE must fail validation")
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEYS", "sk-ant-one")
	t.Setenv("LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("invalid LOG_LEVEL must fail validation")
	}
}

func TestSplitKeys(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{" , , ", 0},
		{"one", 1},
		{"one,two", 2},
		{"one, two ,three,", 3},
	}
	for _, c := range cases {
		if got := splitKeys(c.in); len(got) != c.want {
			t.Errorf("splitKeys(%q) = %v, want %d keys", c.in, got, c.want)
		}
	}
}
