package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/cronexpr"
	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Slack     SlackConfig     `yaml:"slack"`
	Jobs      []types.JobSeed `yaml:"jobs"`
}

type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

type SchedulerConfig struct {
	Timezone         string `yaml:"timezone"`
	SyncInterval     string `yaml:"sync_interval"`
	LogRetentionDays int    `yaml:"log_retention_days"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  "10s",
			WriteTimeout: "60s",
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			URL:    "pos-scheduler.db",
		},
		Scheduler: SchedulerConfig{
			Timezone:         "Local",
			SyncInterval:     "1m",
			LogRetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadEnv reads .env, falling back to .env.local. Neither file is required.
func LoadEnv() bool {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load(".env.local"); err != nil {
			return false
		}
	}
	return true
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Scheduler.Timezone = getEnv("SCHEDULER_TIMEZONE", c.Scheduler.Timezone)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
	c.Slack.WebhookURL = getEnv("SLACK_WEBHOOK_URL", c.Slack.WebhookURL)
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for name, value := range map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"scheduler.sync_interval": c.Scheduler.SyncInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}
	if c.Scheduler.LogRetentionDays < 1 {
		return fmt.Errorf("scheduler.log_retention_days must be at least 1, got %d", c.Scheduler.LogRetentionDays)
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d]: name is required", i)
		}
		if seen[job.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job name %s", i, job.Name)
		}
		seen[job.Name] = true

		if err := cronexpr.Validate(job.Schedule); err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler.timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (c *Config) SyncInterval() time.Duration {
	return parseDuration(c.Scheduler.SyncInterval, time.Minute)
}

func (c *Config) ReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 10*time.Second)
}

func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 60*time.Second)
}

func (c *Config) LogRetention() time.Duration {
	return time.Duration(c.Scheduler.LogRetentionDays) * 24 * time.Hour
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
