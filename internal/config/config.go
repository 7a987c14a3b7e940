package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	JWTSecret       string        `yaml:"jwt_secret"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	ReplayTTL time.Duration `yaml:"replay_ttl"`
}

type RazorpayConfig struct {
	KeyID         string        `yaml:"key_id"`
	KeySecret     string        `yaml:"key_secret"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
	Sandbox       bool          `yaml:"sandbox"` // use the noop gateway instead of live calls
}

type BillingConfig struct {
	Currency           string `yaml:"currency"`
	ProrationMonthDays int    `yaml:"proration_month_days"`
	ProrationYearDays  int    `yaml:"proration_year_days"`
}

type SchedulerConfig struct {
	ExpiryInterval    time.Duration `yaml:"expiry_interval"`
	ResetInterval     time.Duration `yaml:"reset_interval"`
	ReminderInterval  time.Duration `yaml:"reminder_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileStale    time.Duration `yaml:"reconcile_stale"`
}

type NotifyConfig struct {
	EmailRelayURL string `yaml:"email_relay_url"`
	APIKey        string `yaml:"api_key"`
}

type WorkerConfig struct {
	Count int `yaml:"count"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Razorpay  RazorpayConfig  `yaml:"razorpay"`
	Billing   BillingConfig   `yaml:"billing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Worker    WorkerConfig    `yaml:"worker"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.RateLimitPerMin <= 0 {
		cfg.Server.RateLimitPerMin = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Redis.ReplayTTL <= 0 {
		cfg.Redis.ReplayTTL = 24 * time.Hour
	}
	if cfg.Razorpay.Timeout <= 0 {
		cfg.Razorpay.Timeout = 10 * time.Second
	}
	if cfg.Billing.Currency == "" {
		cfg.Billing.Currency = "INR"
	}
	if cfg.Billing.ProrationMonthDays <= 0 {
		cfg.Billing.ProrationMonthDays = 30
	}
	if cfg.Billing.ProrationYearDays <= 0 {
		cfg.Billing.ProrationYearDays = 365
	}
	if cfg.Scheduler.ExpiryInterval <= 0 {
		cfg.Scheduler.ExpiryInterval = time.Hour
	}
	if cfg.Scheduler.ResetInterval <= 0 {
		cfg.Scheduler.ResetInterval = time.Hour
	}
	if cfg.Scheduler.ReminderInterval <= 0 {
		cfg.Scheduler.ReminderInterval = 6 * time.Hour
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = 5 * time.Minute
	}
	if cfg.Scheduler.ReconcileStale <= 0 {
		cfg.Scheduler.ReconcileStale = 15 * time.Minute
	}
	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = 8
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Server.JWTSecret == "" {
		return nil, errors.New("server.jwt_secret is required")
	}
	if !cfg.Razorpay.Sandbox {
		if cfg.Razorpay.KeyID == "" || cfg.Razorpay.KeySecret == "" {
			return nil, errors.New("razorpay.key_id and razorpay.key_secret are required")
		}
		if cfg.Razorpay.WebhookSecret == "" {
			return nil, errors.New("razorpay.webhook_secret is required")
		}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
