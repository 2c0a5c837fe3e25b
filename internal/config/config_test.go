package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"courtbook/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("COURTBOOK_REDIS_ADDR", "127.0.0.1:6379")

	yamlContent := `
database:
  path: "test.db"
redis:
  address: "${COURTBOOK_REDIS_ADDR}"
lock:
  wait_timeout: 2s
  lease_ttl: 45s
booking:
  default_slot_price: 5000
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Redis.Address != "127.0.0.1:6379" {
		t.Errorf("expected env expansion of redis address, got %q", cfg.Redis.Address)
	}
	if cfg.Lock.Backend != "redis" {
		t.Errorf("expected redis lock backend when redis is configured, got %q", cfg.Lock.Backend)
	}
	if cfg.Lock.WaitTimeout != 2*time.Second {
		t.Errorf("expected wait_timeout 2s, got %s", cfg.Lock.WaitTimeout)
	}
	if cfg.Lock.LeaseTTL != 45*time.Second {
		t.Errorf("expected lease_ttl 45s, got %s", cfg.Lock.LeaseTTL)
	}
	if cfg.Lock.Lease() != 45*time.Second {
		t.Errorf("expected lease 45s, got %s", cfg.Lock.Lease())
	}
	if cfg.Booking.DefaultSlotPrice != 5000 {
		t.Errorf("expected default slot price 5000, got %d", cfg.Booking.DefaultSlotPrice)
	}
}

func TestLoadConfig_IndefiniteHold(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
database:
  path: "test.db"
lock:
  lease_ttl: 0s
  indefinite_hold: true
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Lock.Lease() != 0 {
		t.Errorf("expected no lease with indefinite_hold, got %s", cfg.Lock.Lease())
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{Database: DatabaseConfig{Path: "path"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "redis backend without address",
			mutate:  func(c *Config) { c.Lock.Backend = "redis" },
			wantErr: true,
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Lock.Backend = "etcd" },
			wantErr: true,
		},
		{
			name:    "negative default price",
			mutate:  func(c *Config) { c.Booking.DefaultSlotPrice = -1 },
			wantErr: true,
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.App.Timezone = "Mars/Olympus" },
			wantErr: true,
		},
		{
			name:    "telegram without chat",
			mutate:  func(c *Config) { c.Telegram.BotToken = "token" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Lock.Backend != "memory" {
		t.Errorf("expected memory backend without redis, got %s", cfg.Lock.Backend)
	}
	if cfg.Lock.KeyPrefix != "slot_lock" {
		t.Errorf("expected default key prefix slot_lock, got %s", cfg.Lock.KeyPrefix)
	}
	if cfg.Lock.WaitTimeout != models.DefaultLockWaitTimeout*time.Second {
		t.Errorf("unexpected default wait timeout %s", cfg.Lock.WaitTimeout)
	}
	if cfg.Lock.Lease() != models.DefaultLockLeaseTTL*time.Second {
		t.Errorf("unexpected default lease %s", cfg.Lock.Lease())
	}
	if cfg.Booking.MaxAdvanceDays != models.DefaultMaxAdvanceDays {
		t.Errorf("expected default max advance days %d, got %d", models.DefaultMaxAdvanceDays, cfg.Booking.MaxAdvanceDays)
	}
	if cfg.API.HTTP.Port != 8080 {
		t.Errorf("expected default HTTP port 8080, got %d", cfg.API.HTTP.Port)
	}
	if cfg.Scheduler.PregenerateDays != models.DefaultPregenerateDays {
		t.Errorf("expected default pregenerate days %d, got %d", models.DefaultPregenerateDays, cfg.Scheduler.PregenerateDays)
	}
}
