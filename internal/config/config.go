package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cabinbook/internal/interval"
)

type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	API struct {
		Port      int      `yaml:"port"`
		APIKeys   []string `yaml:"api_keys"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"api"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking BookingConfig `yaml:"booking"`

	Backup BackupConfig `yaml:"backup"`

	Notifications struct {
		Telegram struct {
			BotToken string  `yaml:"bot_token"`
			Rate     float64 `yaml:"rate"`
			Burst    int     `yaml:"burst"`
		} `yaml:"telegram"`
		AMQP struct {
			URL   string `yaml:"url"`
			Queue string `yaml:"queue"`
		} `yaml:"amqp"`
	} `yaml:"notifications"`

	Catalog struct {
		Path                  string `yaml:"path"`
		ReloadIntervalSeconds int    `yaml:"reload_interval_seconds"`
	} `yaml:"catalog"`

	Reminders struct {
		Enabled              bool `yaml:"enabled"`
		CheckIntervalSeconds int  `yaml:"check_interval_seconds"`
		LeadMinutes          int  `yaml:"lead_minutes"`
	} `yaml:"reminders"`
}

// BookingConfig holds the scheduling rules.
type BookingConfig struct {
	OpenTime           string `yaml:"open_time"`
	CloseTime          string `yaml:"close_time"`
	MinDurationMinutes int    `yaml:"min_duration_minutes"`
	MaxDurationMinutes int    `yaml:"max_duration_minutes"`
	StepMinutes        int    `yaml:"step_minutes"`
	MaxAdvanceDays     int    `yaml:"max_advance_days"`
	AlternativesLimit  int    `yaml:"alternatives_limit"`
	LockTimeoutSeconds int    `yaml:"lock_timeout_seconds"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	AuditExport   bool   `yaml:"audit_export"`
}

// Load reads the YAML config at path, expanding ${ENV_VAR} placeholders.
// A .env file next to the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("CABINBOOK_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/cabinbook.db"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	// unset ${VAR} placeholders expand to empty keys
	keys := c.API.APIKeys[:0]
	for _, k := range c.API.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	c.API.APIKeys = keys
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Booking.OpenTime == "" {
		c.Booking.OpenTime = "09:00"
	}
	if c.Booking.CloseTime == "" {
		c.Booking.CloseTime = "18:00"
	}
	if c.Booking.MinDurationMinutes == 0 {
		c.Booking.MinDurationMinutes = interval.DefaultRules.MinDuration
	}
	if c.Booking.MaxDurationMinutes == 0 {
		c.Booking.MaxDurationMinutes = interval.DefaultRules.MaxDuration
	}
	if c.Booking.StepMinutes == 0 {
		c.Booking.StepMinutes = interval.DefaultRules.Step
	}
	if c.Booking.MaxAdvanceDays == 0 {
		c.Booking.MaxAdvanceDays = 90
	}
	if c.Booking.AlternativesLimit == 0 {
		c.Booking.AlternativesLimit = 5
	}
	if c.Booking.LockTimeoutSeconds == 0 {
		c.Booking.LockTimeoutSeconds = 5
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Notifications.AMQP.Queue == "" {
		c.Notifications.AMQP.Queue = "cabinbook.events"
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = "configs/cabins.yaml"
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if _, err := c.Rules(); err != nil {
		return fmt.Errorf("booking: %w", err)
	}
	if c.API.RateLimit.RPS < 0 || c.API.RateLimit.Burst < 0 {
		return fmt.Errorf("api.rate_limit: values cannot be negative")
	}
	return nil
}

// Rules converts the booking section into interval rules.
func (c *Config) Rules() (interval.Rules, error) {
	open, err := interval.ParseMinute(c.Booking.OpenTime)
	if err != nil {
		return interval.Rules{}, fmt.Errorf("open_time: %w", err)
	}
	closing, err := interval.ParseMinute(c.Booking.CloseTime)
	if err != nil {
		return interval.Rules{}, fmt.Errorf("close_time: %w", err)
	}
	r := interval.Rules{
		Open:        open,
		Close:       closing,
		MinDuration: c.Booking.MinDurationMinutes,
		MaxDuration: c.Booking.MaxDurationMinutes,
		Step:        c.Booking.StepMinutes,
	}
	return r, r.Validate()
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Booking.LockTimeoutSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	if c.Redis.LockTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) CatalogReloadInterval() time.Duration {
	if c.Catalog.ReloadIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Catalog.ReloadIntervalSeconds) * time.Second
}

func (c *Config) ReminderInterval() time.Duration {
	return time.Duration(c.Reminders.CheckIntervalSeconds) * time.Second
}

func (c *Config) ReminderLead() time.Duration {
	return time.Duration(c.Reminders.LeadMinutes) * time.Minute
}
