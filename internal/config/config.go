package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"courtbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Lock       LockConfig       `yaml:"lock"`
	Booking    BookingConfig    `yaml:"booking"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	Timezone    string `yaml:"timezone"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// LockConfig controls the slot lock manager. Backend is "redis" or "memory".
// IndefiniteHold makes keys live until released, ignoring LeaseTTL.
type LockConfig struct {
	Backend        string        `yaml:"backend"`
	KeyPrefix      string        `yaml:"key_prefix"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	LeaseTTL       time.Duration `yaml:"lease_ttl"`
	IndefiniteHold bool          `yaml:"indefinite_hold"`
}

// Lease is the lease put on each slot key; 0 means no expiry.
func (l LockConfig) Lease() time.Duration {
	if l.IndefiniteHold {
		return 0
	}
	return l.LeaseTTL
}

type BookingConfig struct {
	DefaultSlotPrice int64 `yaml:"default_slot_price"`
	MaxAdvanceDays   int   `yaml:"max_advance_days"`
}

type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	PregenerateCron string `yaml:"pregenerate_cron"`
	PregenerateDays int    `yaml:"pregenerate_days"`
	ExpireCron      string `yaml:"expire_cron"`
	BackupCron      string `yaml:"backup_cron"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`

	// IdempotencyTTL is how long responses are kept for replay by Idempotency-Key.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TelegramConfig is optional; when BotToken is empty merchant notifications are off.
type TelegramConfig struct {
	BotToken       string `yaml:"bot_token"`
	MerchantChatID int64  `yaml:"merchant_chat_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("lock backend redis requires redis.address")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}

	if c.Lock.WaitTimeout <= 0 {
		return errors.New("lock.wait_timeout must be positive")
	}
	if c.Lock.LeaseTTL < 0 {
		return errors.New("lock.lease_ttl must not be negative")
	}
	if c.Booking.DefaultSlotPrice < 0 {
		return errors.New("booking.default_slot_price must not be negative")
	}

	if c.App.Timezone != "" {
		if _, err := time.LoadLocation(c.App.Timezone); err != nil {
			return fmt.Errorf("invalid app.timezone: %w", err)
		}
	}

	if c.Telegram.BotToken != "" && c.Telegram.MerchantChatID == 0 {
		return errors.New("telegram.merchant_chat_id is required when bot_token is set")
	}

	return nil
}

// Location returns the configured timezone, local time when unset.
func (c *Config) Location() *time.Location {
	if c.App.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) applyDefaults() {
	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	if c.Lock.Backend == "" {
		if c.Redis.Address != "" {
			c.Lock.Backend = "redis"
		} else {
			c.Lock.Backend = "memory"
		}
	}
	if c.Lock.KeyPrefix == "" {
		c.Lock.KeyPrefix = "slot_lock"
	}
	if c.Lock.WaitTimeout == 0 {
		c.Lock.WaitTimeout = models.DefaultLockWaitTimeout * time.Second
	}
	if c.Lock.RetryInterval == 0 {
		c.Lock.RetryInterval = models.DefaultLockRetryInterval * time.Millisecond
	}
	if c.Lock.LeaseTTL == 0 {
		c.Lock.LeaseTTL = models.DefaultLockLeaseTTL * time.Second
	}

	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}

	if c.Booking.MaxAdvanceDays == 0 {
		c.Booking.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}

	if c.Scheduler.PregenerateCron == "" {
		c.Scheduler.PregenerateCron = "10 0 * * *"
	}
	if c.Scheduler.PregenerateDays == 0 {
		c.Scheduler.PregenerateDays = models.DefaultPregenerateDays
	}
	if c.Scheduler.ExpireCron == "" {
		c.Scheduler.ExpireCron = "5 0 * * *"
	}
	if c.Scheduler.BackupCron == "" {
		c.Scheduler.BackupCron = "30 3 * * *"
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.IdempotencyTTL == 0 {
		c.API.IdempotencyTTL = 24 * time.Hour
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
