package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.QueueBackend != QueueKafka {
		t.Fatalf("expected kafka backend, got %s", cfg.QueueBackend)
	}
	if cfg.PathTTL != time.Minute {
		t.Fatalf("expected PATH_TTL 1m, got %s", cfg.PathTTL)
	}
	p, ok := cfg.Policies.Get(EndpointPath)
	if !ok {
		t.Fatalf("expected default path policy")
	}
	if p.WindowSeconds != 5 || p.MaxRequests != 5 || !p.RequireIdentity {
		t.Fatalf("unexpected path policy %+v", p)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("WORKERS", "8")
	t.Setenv("LOCK_TTL", "1500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.QueueBackend != QueueRedis {
		t.Fatalf("expected redis backend, got %s", cfg.QueueBackend)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.Workers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Workers)
	}
	if cfg.LockTTL != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s lock ttl, got %s", cfg.LockTTL)
	}
}

func TestLoadDotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HTTP_ADDR=:9999\nADMIN_TOKEN=from-file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("ADMIN_TOKEN", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("expected addr from .env, got %s", cfg.HTTPAddr)
	}
	if cfg.AdminToken != "from-env" {
		t.Fatalf("expected env to win, got %s", cfg.AdminToken)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		substr string
	}{
		{name: "unknown queue", key: "QUEUE_BACKEND", value: "rabbit", substr: "QUEUE_BACKEND"},
		{name: "unknown driver", key: "DB_DRIVER", value: "mysql", substr: "DB_DRIVER"},
		{name: "zero workers", key: "WORKERS", value: "0", substr: "WORKERS"},
		{name: "bad int", key: "REDIS_DB", value: "x", substr: "parse env"},
		{name: "node id range", key: "NODE_ID", value: "4096", substr: "NODE_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Fatalf("expected error containing %q, got %v", tt.substr, err)
			}
		})
	}
}

func TestPolicyFileOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "policies.yaml")
	body := `
path:
  window_seconds: 10
  max_requests: 2
  require_identity: true
stock:
  window_seconds: 1
  max_requests: 100
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policies: %v", err)
	}
	t.Setenv("ACCESS_POLICY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	p, _ := cfg.Policies.Get(EndpointPath)
	if p.WindowSeconds != 10 || p.MaxRequests != 2 {
		t.Fatalf("expected overridden path policy, got %+v", p)
	}
	if _, ok := cfg.Policies.Get("stock"); !ok {
		t.Fatalf("expected extra stock policy")
	}
	if _, ok := cfg.Policies.Get(EndpointBuy); !ok {
		t.Fatalf("expected default buy policy to survive merge")
	}
}

func TestPolicyValidate(t *testing.T) {
	p := Policies{"x": {WindowSeconds: 0, MaxRequests: 1}}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected error for zero window")
	}
}
