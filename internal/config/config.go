package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Accounts  AccountsConfig  `yaml:"accounts"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PricingConfig struct {
	Currency         string   `yaml:"currency"`
	GrayscaleCents   int64    `yaml:"grayscale_cents"`
	ColorCents       int64    `yaml:"color_cents"`
	AllowedMimeTypes []string `yaml:"allowed_mime_types"`
}

type AccountsConfig struct {
	InitialBalanceCents int64 `yaml:"initial_balance_cents"`
	InitialPageQuota    int   `yaml:"initial_page_quota"`
}

type SchedulerConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	WorkerCount       int           `yaml:"worker_count"`
	MaxAttempts       int           `yaml:"max_attempts"`
	PerPageTime       time.Duration `yaml:"per_page_time"`
	MaxProcessingTime time.Duration `yaml:"max_processing_time"`
	PrintingTimeout   time.Duration `yaml:"printing_timeout"`
	FailureRate       float64       `yaml:"failure_rate"`
}

type WebhookEndpoint struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type WebhooksConfig struct {
	Endpoints   []WebhookEndpoint `yaml:"endpoints"`
	RetryCount  int               `yaml:"retry_count"`
	RetryDelay  time.Duration     `yaml:"retry_delay"`
	Timeout     time.Duration     `yaml:"timeout"`
	WorkerCount int               `yaml:"worker_count"`
	QueueSize   int               `yaml:"queue_size"`
}

type AuthConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/printdesk.db",
		},
		Pricing: PricingConfig{
			Currency:       "USD",
			GrayscaleCents: 5,
			ColorCents:     15,
			AllowedMimeTypes: []string{
				"application/pdf",
				"application/msword",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				"image/png",
				"image/jpeg",
				"image/gif",
				"text/plain",
			},
		},
		Accounts: AccountsConfig{
			InitialBalanceCents: 1000,
			InitialPageQuota:    500,
		},
		Scheduler: SchedulerConfig{
			TickInterval:      2 * time.Second,
			WorkerCount:       2,
			MaxAttempts:       3,
			PerPageTime:       500 * time.Millisecond,
			MaxProcessingTime: 30 * time.Second,
			PrintingTimeout:   2 * time.Minute,
			FailureRate:       0,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 3,
			QueueSize:   100,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRINTDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PRINTDESK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PRINTDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Pricing.GrayscaleCents < 0 || c.Pricing.ColorCents < 0 {
		return fmt.Errorf("page rates must be non-negative")
	}
	if c.Pricing.ColorCents < c.Pricing.GrayscaleCents {
		return fmt.Errorf("color rate must be at least the grayscale rate")
	}
	if c.Accounts.InitialBalanceCents < 0 {
		return fmt.Errorf("initial balance must be non-negative")
	}
	if c.Accounts.InitialPageQuota < 0 {
		return fmt.Errorf("initial page quota must be non-negative")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval must be positive")
	}
	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("scheduler worker count must be at least 1")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler max attempts must be at least 1")
	}
	if c.Scheduler.FailureRate < 0 || c.Scheduler.FailureRate > 1 {
		return fmt.Errorf("scheduler failure rate must be between 0 and 1")
	}
	if c.Scheduler.PrintingTimeout <= c.Scheduler.MaxProcessingTime {
		return fmt.Errorf("printing timeout must exceed max processing time")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}
